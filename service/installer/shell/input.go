package shell

// Input is a batch of commands run in one shell session.
type Input struct {
	Workdir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Commands     []string          `json:"commands,omitempty"`
	TimeoutMs    int               `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	AbortOnError *bool             `json:"abortOnError,omitempty"`
}

func (i *Input) abortOnError() bool {
	if i.AbortOnError == nil {
		return true
	}
	return *i.AbortOnError
}
