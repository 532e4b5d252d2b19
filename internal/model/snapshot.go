package model

// SchemaVersion is the version of the persisted snapshot layout. Blobs
// without a version predate mascot preferences.
const SchemaVersion = 2

// Slice names a top-level part of the snapshot that is replaced wholesale
// when a remote change arrives.
type Slice string

const (
	SliceTasks         Slice = "tasks"
	SliceRewards       Slice = "rewards"
	SliceStats         Slice = "stats"
	SliceCouple        Slice = "couple"
	SliceMascot        Slice = "mascot"
	SliceNotifications Slice = "notifications"
)

type Settings struct {
	Theme          string `json:"theme"`
	OnboardingDone bool   `json:"onboardingDone"`
	LastResetDate  string `json:"lastResetDate"`
}

type Snapshot struct {
	SchemaVersion int         `json:"schemaVersion"`
	Couple        Couple      `json:"couple"`
	Tasks         []Task      `json:"tasks"`
	Rewards       []Reward    `json:"rewards"`
	Stats         Stats       `json:"stats"`
	Mascot        MascotPrefs `json:"mascot"`
	Settings      Settings    `json:"settings"`
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		SchemaVersion: SchemaVersion,
		Tasks:         []Task{},
		Rewards:       []Reward{},
		Mascot:        DefaultMascotPrefs(),
		Settings:      Settings{Theme: "default"},
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	s.Tasks = CloneTasks(s.Tasks)
	s.Rewards = CloneRewards(s.Rewards)
	return s
}

func CloneTasks(in []Task) []Task {
	out := make([]Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

func CloneRewards(in []Reward) []Reward {
	out := make([]Reward, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
