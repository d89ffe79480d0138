package command

import "strconv"

// Config holds the small set of server configuration values exposed
// through CONFIG GET, per the supplemented feature that answers any
// recognized config name rather than just dir/dbfilename.
type Config struct {
	Dir        string
	DBFilename string
	Port       int
}

// Get looks up a single config key by its CONFIG GET name. The second
// return value is false for anything not in the known set.
func (c *Config) Get(name string) (string, bool) {
	switch name {
	case "dir":
		return c.Dir, true
	case "dbfilename":
		return c.DBFilename, true
	case "port":
		return strconv.Itoa(c.Port), true
	case "appendonly":
		return "no", true
	default:
		return "", false
	}
}
