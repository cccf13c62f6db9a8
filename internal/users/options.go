package users

// Profile option enumerations surfaced by the profile-options endpoint.
// Values mirror the registration form choices.
var profileOptions = map[string][]string{
	"gender": {"Male", "Female", "Non Binary/Other"},
	"race": {
		"White", "Hispanic", "Black or African American",
		"American Indian or Alaska Native", "Asian",
		"Native Hawaiian or Other Pacific Islander", "Two or more races", "Other",
	},
	"household_income": {
		"Less then $25,000", "$25,000 - $50,000", "$50,000 - $75,000",
		"$75,000 - $150,000", "$150,000 - $500,000", "$500,000 or more",
	},
	"education": {
		"K-12", "High School/GED", "Some College", "Vocational or Trade School",
		"Bachelors Degree", "Masters Degree", "PhD",
	},
	"states": {
		"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
		"HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD",
		"MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "NJ",
		"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC",
		"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY", "DC",
	},
}
