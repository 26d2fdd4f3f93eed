// Package cli holds the pieces shared by the commsync command: named
// session contexts stored in ~/.commsync/config.yaml (kubectl style), YAML
// and JSON output, event file loading and the styled timeline printed by
// watch.
//
//	cfg, err := cli.LoadConfig("")
//	ctx, err := cfg.ResolveContext(name)
//	client, err := commsync.New(c, ctx.Config)
package cli
