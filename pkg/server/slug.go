package server

import "math/rand/v2"

// Word lists for generated project names, e.g. "brave-otter". Names are
// display labels only; uniqueness comes from the project ID.
var (
	slugAdjectives = []string{
		"amber", "bold", "brave", "bright", "calm", "clever", "crimson",
		"eager", "gentle", "golden", "happy", "jolly", "keen", "lively",
		"mellow", "noble", "quick", "quiet", "rapid", "silent", "silver",
		"steady", "sunny", "swift", "vivid", "warm", "wise", "witty",
	}
	slugNouns = []string{
		"badger", "beacon", "canyon", "cedar", "comet", "falcon", "fjord",
		"glacier", "harbor", "heron", "lagoon", "lantern", "maple", "meadow",
		"otter", "pebble", "pine", "prairie", "raven", "reef", "river",
		"sparrow", "summit", "thicket", "tundra", "willow",
	}
)

func generateSlug() string {
	return slugAdjectives[rand.IntN(len(slugAdjectives))] + "-" + slugNouns[rand.IntN(len(slugNouns))]
}
