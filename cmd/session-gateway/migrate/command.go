package migrate

import (
	"github.com/spf13/cobra"

	"github.com/caseboard/session-gateway/internal/business"
	"github.com/caseboard/session-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Session Gateway migrations",
		"Applies the session store schema migrations to the configured database.",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
