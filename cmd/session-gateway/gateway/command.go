package gateway

import (
	"github.com/spf13/cobra"

	"github.com/caseboard/session-gateway/internal/business"
	"github.com/caseboard/session-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"gateway",
		"Session Gateway server",
		"Session Gateway server authenticates browsers against the scheduling API and proxies their requests.",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
}
