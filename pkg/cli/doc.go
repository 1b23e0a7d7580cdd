/*
Package cli provides command-line helpers shared by the bastion commands.

Output Formatting:

Command results can be printed as text, JSON or YAML:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Errors:

ConfigError and CommandError carry the failing field or command. ExitCode
maps an error returned by a command to the process exit status.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
