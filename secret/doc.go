// Package secret resolves credentials referenced from configuration, most
// importantly proxy specs that embed a username and password.
//
// It supports:
//   - Strict ${VAR} and ${VAR:-default} expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider, EnvProvider, FileProvider)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:PROXY_PASSWORD
//   - Inline use:  10.0.0.1:8080:scraper:secretref:env:PROXY_PASSWORD
//   - Whole list:  secretref:file:/run/secrets/proxies.txt (see Resolver.ResolveLines)
package secret
