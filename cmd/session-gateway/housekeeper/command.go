package housekeeper

import (
	"github.com/spf13/cobra"

	"github.com/caseboard/session-gateway/internal/business"
	"github.com/caseboard/session-gateway/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"housekeeper",
		"Session Gateway housekeeping job",
		"Session Gateway housekeeping job removes expired and idle sessions from the store.",
		buildInfo,
		cmdutils.RunAsService,
		business.HousekeeperMain,
	)
}
