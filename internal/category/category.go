// Package category guesses a task's category and icon from its name.
package category

import (
	"strings"

	"github.com/dukerupert/mimitask/internal/store"
)

// Default is used when nothing in the name matches.
const Default = "divers"

// Category is a task category with the icon shown next to its tasks.
type Category struct {
	Name string
	Icon string
}

var (
	Cuisine   = Category{"cuisine", "🍳"}
	Menage    = Category{"ménage", "🧹"}
	Linge     = Category{"linge", "👕"}
	Courses   = Category{"courses", "🛒"}
	Jardin    = Category{"jardin", "🌱"}
	Animaux   = Category{"animaux", "🐾"}
	Bricolage = Category{"bricolage", "🔧"}
	Admin     = Category{"administratif", "📄"}
	Divers    = Category{Default, "📋"}
)

// All lists the known categories in display order.
var All = []Category{Cuisine, Menage, Linge, Courses, Jardin, Animaux, Bricolage, Admin, Divers}

// Guess returns the category for a task name. It performs
// case-insensitive matching: exact match first, then substring match.
// Falls back to Divers if no match is found.
func Guess(taskName string) Category {
	name := strings.ToLower(store.CleanName(taskName))
	if name == "" {
		return Divers
	}

	if c, ok := exactMatch[name]; ok {
		return c
	}

	// ordered longer/more-specific first
	for _, entry := range substringMatches {
		if strings.Contains(name, entry.keyword) {
			return entry.category
		}
	}
	return Divers
}

// Lookup finds a known category by name, ignoring case.
func Lookup(name string) (Category, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range All {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

var exactMatch = map[string]Category{
	"vaisselle":  Cuisine,
	"dishes":     Cuisine,
	"cuisine":    Cuisine,
	"cooking":    Cuisine,
	"repas":      Cuisine,
	"dîner":      Cuisine,
	"diner":      Cuisine,
	"dinner":     Cuisine,
	"ménage":     Menage,
	"menage":     Menage,
	"aspirateur": Menage,
	"vacuum":     Menage,
	"poussière":  Menage,
	"dusting":    Menage,
	"poubelles":  Menage,
	"trash":      Menage,
	"lessive":    Linge,
	"laundry":    Linge,
	"repassage":  Linge,
	"ironing":    Linge,
	"linge":      Linge,
	"courses":    Courses,
	"groceries":  Courses,
	"shopping":   Courses,
	"jardinage":  Jardin,
	"gardening":  Jardin,
	"pelouse":    Jardin,
	"tondre":     Jardin,
	"bricolage":  Bricolage,
	"papiers":    Admin,
	"paperwork":  Admin,
	"factures":   Admin,
	"bills":      Admin,
	"impôts":     Admin,
	"taxes":      Admin,
}

var substringMatches = []struct {
	keyword  string
	category Category
}{
	// Longer/more-specific keywords first
	{"lave-vaisselle", Cuisine},
	{"dishwasher", Cuisine},
	{"vaisselle", Cuisine},
	{"petit-déjeuner", Cuisine},
	{"breakfast", Cuisine},
	{"repas", Cuisine},
	{"cuisiner", Cuisine},
	{"cook", Cuisine},
	{"frigo", Cuisine},
	{"fridge", Cuisine},
	{"oven", Cuisine},

	{"machine à laver", Linge},
	{"lave-linge", Linge},
	{"sèche-linge", Linge},
	{"draps", Linge},
	{"sheets", Linge},
	{"linge", Linge},
	{"lessive", Linge},
	{"laundry", Linge},
	{"repass", Linge},
	{"ironing", Linge},

	{"liste de courses", Courses},
	{"supermarché", Courses},
	{"marché", Courses},
	{"grocer", Courses},
	{"courses", Courses},
	{"shopping", Courses},

	{"salle de bain", Menage},
	{"bathroom", Menage},
	{"toilettes", Menage},
	{"toilet", Menage},
	{"aspirateur", Menage},
	{"vacuum", Menage},
	{"serpillière", Menage},
	{"mop", Menage},
	{"poussière", Menage},
	{"dust", Menage},
	{"poubelle", Menage},
	{"trash", Menage},
	{"vitres", Menage},
	{"windows", Menage},
	{"ranger", Menage},
	{"tidy", Menage},
	{"nettoy", Menage},
	{"clean", Menage},
	{"ménage", Menage},

	{"litière", Animaux},
	{"litter", Animaux},
	{"promener le chien", Animaux},
	{"walk the dog", Animaux},
	{"chien", Animaux},
	{"dog", Animaux},
	{"croquettes", Animaux},

	{"pelouse", Jardin},
	{"lawn", Jardin},
	{"arroser", Jardin},
	{"water the plants", Jardin},
	{"plantes", Jardin},
	{"plants", Jardin},
	{"jardin", Jardin},
	{"garden", Jardin},

	{"ampoule", Bricolage},
	{"light bulb", Bricolage},
	{"réparer", Bricolage},
	{"repair", Bricolage},
	{"fix", Bricolage},
	{"monter", Bricolage},

	{"rendez-vous", Admin},
	{"appointment", Admin},
	{"facture", Admin},
	{"bill", Admin},
	{"banque", Admin},
	{"bank", Admin},
	{"impôt", Admin},
	{"papier", Admin},
}
