package op_service

// PrefixEnvVar builds the environment variable name of a flag for a service prefix.
func PrefixEnvVar(prefix, suffix string) []string {
	return []string{prefix + "_" + suffix}
}
