package store

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/mimitask/internal/model"
)

// PreselectedTasks is how many template tasks onboarding adds.
const PreselectedTasks = 10

//go:embed defaults.json
var defaultsJSON []byte

type templates struct {
	Tasks []struct {
		Name       string           `json:"name"`
		Icon       string           `json:"icon"`
		Points     int              `json:"points"`
		Category   string           `json:"category"`
		Recurrence model.Recurrence `json:"recurrence"`
	} `json:"tasks"`
	Rewards []struct {
		Name       string           `json:"name"`
		Icon       string           `json:"icon"`
		PointsCost int              `json:"pointsCost"`
		Type       model.RewardType `json:"type"`
	} `json:"rewards"`
}

// DefaultTemplates returns the preselected onboarding tasks and every
// default reward.
func DefaultTemplates() ([]NewTask, []NewReward, error) {
	var tpl templates
	if err := json.Unmarshal(defaultsJSON, &tpl); err != nil {
		return nil, nil, fmt.Errorf("decode default templates: %w", err)
	}
	n := min(PreselectedTasks, len(tpl.Tasks))
	tasks := make([]NewTask, 0, n)
	for _, t := range tpl.Tasks[:n] {
		tasks = append(tasks, NewTask{
			Name:       t.Name,
			Points:     t.Points,
			Recurrence: t.Recurrence,
			Icon:       t.Icon,
			Category:   t.Category,
		})
	}
	rewards := make([]NewReward, 0, len(tpl.Rewards))
	for _, r := range tpl.Rewards {
		rewards = append(rewards, NewReward{Name: r.Name, PointsCost: r.PointsCost, Icon: r.Icon, Type: r.Type})
	}
	return tasks, rewards, nil
}

// AddDefaults seeds the onboarding templates and returns how many tasks
// and rewards were added.
func (l *Local) AddDefaults() (int, int, error) {
	tasks, rewards, err := DefaultTemplates()
	if err != nil {
		return 0, 0, err
	}
	addedTasks, err := l.AddDefaultTasks(tasks)
	if err != nil {
		return 0, 0, err
	}
	addedRewards, err := l.AddDefaultRewards(rewards)
	if err != nil {
		return len(addedTasks), 0, err
	}
	return len(addedTasks), len(addedRewards), nil
}
