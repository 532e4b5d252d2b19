package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dukerupert/mimitask/internal/model"
)

type mascotView struct {
	model.MascotPrefs
	Mood model.Mood `json:"mood"`
}

func (m mascotView) String() string {
	return fmt.Sprintf("Mimi is %s, wearing %s, and feels %s.", m.ColorID, m.AccessoryID, m.Mood)
}

func newMascotCommand(opts *RootOptions) *cobra.Command {
	var color, accessory string
	cmd := &cobra.Command{
		Use:   "mascot",
		Short: "Show or dress up the mascot",
		Long: fmt.Sprintf(`Show the mascot, or change its look with --color and --accessory.

Colors: %s
Accessories: %s`, strings.Join(model.MascotColors, ", "), strings.Join(model.MascotAccessories, ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				if color != "" || accessory != "" {
					err := s.app.Local.SetMascotPrefs(model.MascotPrefs{ColorID: color, AccessoryID: accessory})
					if err != nil {
						return failFor(s.out, err)
					}
				}
				return s.out.Success(mascotView{MascotPrefs: s.app.Local.MascotPrefs(), Mood: s.app.Game.Mood()})
			})
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "body color")
	cmd.Flags().StringVar(&accessory, "accessory", "", "accessory")
	return cmd
}
