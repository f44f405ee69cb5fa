package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// #region schema

// schemaSrc constrains the encoded configuration. Durations are nanoseconds.
const schemaSrc = `
agent: {
	actions: [string, ...string]
	rest_interval: int & >=0
	transitions: [string]: string
}
planning: {
	alpha:         number & >0 & <=1
	gamma:         number & >=0 & <=1
	epsilon:       number & >=0 & <=1
	store:         "file" | "sqlite"
	q_table_path:  string
	db_path:       string
	keep_versions: int & >=0
}
feedback: {
	history_size:   int & >0
	failure_reward: number
	success_reward: number
	action_rewards: [string]: number
}
memory: {
	backend: "sqlite" | "leveldb" | "none"
	path:    string
}
signal: {
	url:     string
	timeout: int & >0
	headers: [string]: string
}
log: {
	level: "debug" | "info" | "warn" | "error"
	file:  string
}
telemetry: {
	endpoint:     string
	protocol:     "grpc" | "http"
	insecure:     bool
	service_name: string
	headers:      [string]: string
}
health: {
	listen_address: string
}
`

// #endregion schema

// #region validate

// validateSchema unifies the JSON form of cfg with the closed schema.
func validateSchema(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + schemaSrc + "})")
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	data, err := toJSON(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile configuration: %w", err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// #endregion validate
