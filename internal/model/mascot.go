package model

const (
	DefaultMascotColor     = "vert"
	DefaultMascotAccessory = "none"
)

// MascotColors lists the selectable body colors.
var MascotColors = []string{"vert", "orange", "violet", "bleu", "rouge"}

// MascotAccessories lists the selectable accessories.
var MascotAccessories = []string{"none", "hat", "bow", "glasses", "crown", "scarf"}

type MascotPrefs struct {
	ColorID     string `json:"colorId"`
	AccessoryID string `json:"accessoryId"`
}

func DefaultMascotPrefs() MascotPrefs {
	return MascotPrefs{ColorID: DefaultMascotColor, AccessoryID: DefaultMascotAccessory}
}

type Mood string

const (
	MoodExcited Mood = "excited"
	MoodHappy   Mood = "happy"
	MoodNeutral Mood = "neutral"
	MoodWorried Mood = "worried"
	MoodSad     Mood = "sad"
)
