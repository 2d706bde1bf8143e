package state

import "path/filepath"

const defaultConfigFileName = "config.yaml"

// GlobalOptions contains global config values that apply for all replayd sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	Address        string
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GetDefaultGlobalOptions returns the default global flags.
func GetDefaultGlobalOptions(confDir string) GlobalOptions {
	return GlobalOptions{
		Address:        "localhost:6580",
		ConfigFilePath: filepath.Join(confDir, "replayd", defaultConfigFileName),
		LogOutput:      "stderr",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["REPLAYD_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["REPLAYD_ADDRESS"]; ok {
		result.Address = val
	}
	if val, ok := env["REPLAYD_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["REPLAYD_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["REPLAYD_VERBOSE"] != "" {
		result.Verbose = true
	}
	if env["REPLAYD_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value should disable the
	// color output.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	return result
}
