package config

import (
	"os"
)

// verify checks the semantic rules of every present section.
func (c *Config) verify() error {
	if c.Backend != nil {
		if err := c.Backend.verify(); err != nil {
			return err
		}
	}
	return nil
}

func (b *BackendConfig) verify() error {
	info, err := os.Stat(b.TempDirPath)
	if err != nil {
		reason := "cannot be accessed"
		if os.IsNotExist(err) {
			reason = "does not exist"
		}
		return &InvariantError{
			Section: "backend",
			Field:   "temp_dir_path",
			Value:   b.TempDirPath,
			Reason:  reason,
		}
	}
	if !info.IsDir() {
		return &InvariantError{
			Section: "backend",
			Field:   "temp_dir_path",
			Value:   b.TempDirPath,
			Reason:  "is not a directory",
		}
	}
	return nil
}
