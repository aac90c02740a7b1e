// Package config handles loading and validating CRM Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CRM_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Token signing secrets have no defaults and must be provided
//   - Access and refresh secrets must be at least 32 characters and distinct
//   - Sensitive values (secrets, DSNs, broker passwords) should be set via
//     environment variables rather than the config file
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Driver)
package config
