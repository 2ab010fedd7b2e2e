package bot

import (
	"litshelf/pkg/domain"
	"litshelf/pkg/policy"
)

// Command is one entry of the command list shown in /start and the
// transport's command menu.
type Command struct {
	Name        string
	Usage       string
	Description string
	// Capability gates the command. Empty means any active user.
	Capability domain.Capability
}

var commandTable = []Command{
	{Name: "start", Description: "Show bot info and your commands"},
	{Name: "works_list", Description: "List published works"},
	{Name: "read_work", Usage: "<id>", Description: "Read a work by ID"},
	{Name: "read", Description: "Browse published works with authors"},
	{Name: "rate_work", Usage: "<id>", Description: "Rate a work by ID"},
	{Name: "cancel", Description: "Cancel the current action"},
	{Name: "submit_work", Description: "Submit a work for moderation", Capability: domain.CapAuthor},
	{Name: "review", Description: "Review works awaiting moderation", Capability: domain.CapModerator},
	{Name: "delete_work", Usage: "<id>", Description: "Delete a work", Capability: domain.CapModerator},
	{Name: "users", Description: "List users", Capability: domain.CapOwner},
	{Name: "setrole", Usage: "<id|@username> <role>", Description: "Set a user's role", Capability: domain.CapOwner},
	{Name: "init_owner", Description: "Claim the bot owner role", Capability: domain.CapOwner},
}

// CommandsFor returns the commands available to role, in display order.
// Banned users only get /start.
func CommandsFor(role domain.Role) []Command {
	if !policy.Active(role) {
		return []Command{commandTable[0]}
	}
	out := make([]Command, 0, len(commandTable))
	for _, c := range commandTable {
		if c.Capability == "" || policy.Authorize(role, c.Capability) {
			out = append(out, c)
		}
	}
	return out
}
