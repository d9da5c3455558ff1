package mainboilerplate

import "github.com/jessevdk/go-flags"

// AddCommandFunc registers a sub-command under a parent flags.Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects AddCommandFunc registrations made by package
// init functions, to be later applied against a root flags.Command.
// Registrations name their parent command, with nesting expressed by
// dot-separated parent names.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry creates an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry {
	return make(CommandRegistry)
}

// AddCommand registers |command| under |parentName|, where "" names the
// root command and nesting is expressed with dots:
//
//	AddCommand("", "level1", ...)
//	AddCommand("level1", "level2", ...)
func (cr CommandRegistry) AddCommand(parentName string, command string, shortDescription string, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		_, err := cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands applies registrations made under |rootName| to |rootCmd|.
// If |recursive|, registrations of nested sub-commands are also applied.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command, recursive bool) error {
	for _, addCommandFunc := range cr[rootName] {
		if err := addCommandFunc(rootCmd); err != nil {
			return err
		}
	}

	if recursive {
		for _, cmd := range rootCmd.Commands() {
			var cmdName = cmd.Name
			if rootName != "" {
				cmdName = rootName + "." + cmdName
			}
			if err := cr.AddCommands(cmdName, cmd, recursive); err != nil {
				return err
			}
		}
	}
	return nil
}
