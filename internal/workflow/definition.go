package workflow

// definition mirrors the raw YAML shape of a workflow file. It is decoded
// loosely and then transformed into a validated Workflow by the builder.
type definition struct {
	Name         string                 `mapstructure:"name"`
	Cycling      string                 `mapstructure:"cycling"`
	InitialPoint string                 `mapstructure:"initialPoint"`
	FinalPoint   string                 `mapstructure:"finalPoint"`
	Runahead     string                 `mapstructure:"runahead"`
	ExpireOffset string                 `mapstructure:"expireOffset"`
	Params       map[string][]any       `mapstructure:"params"`
	Families     map[string][]string    `mapstructure:"families"`
	Graph        map[string]string      `mapstructure:"graph"`
	Tasks        map[string]taskDef     `mapstructure:"tasks"`
	Platforms    map[string]platformDef `mapstructure:"platforms"`
}

type taskDef struct {
	Script   string            `mapstructure:"script"`
	Platform string            `mapstructure:"platform"`
	Env      map[string]string `mapstructure:"env"`
	EnvFile  string            `mapstructure:"envFile"`
	Outputs  map[string]string `mapstructure:"outputs"`
}

type platformDef struct {
	Hosts           []string `mapstructure:"hosts"`
	Selection       string   `mapstructure:"selection"`
	InstallTarget   string   `mapstructure:"installTarget"`
	RetrieveJobLogs bool     `mapstructure:"retrieveJobLogs"`
}
