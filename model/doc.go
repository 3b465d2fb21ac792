// Package model holds the durable and in-flight records shared by the grader
// components: submissions, the grader state, the run ledger, test outcomes and
// the grade and statistics records emitted once per submission.
package model
