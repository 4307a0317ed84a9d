package server

import "time"

type Config struct {
	Addr string

	// Storage. When MongoURI is set the record lives in MongoDB; otherwise
	// it falls back to a file store rooted at DataDir.
	MongoURI   string
	MongoDB    string
	Collection string
	DataDir    string
	RecordKey  string

	// Relying-party identity for passkey ceremonies.
	RPID     string
	RPOrigin string
	RPName   string

	// ServerSecret derives the escrow wrapping key. When empty a random
	// secret is generated at boot and wrapped keys do not survive restarts.
	ServerSecret string

	ChallengeTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MongoDB == "" {
		c.MongoDB = "vaultlite"
	}
	if c.Collection == "" {
		c.Collection = "records"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.RecordKey == "" {
		c.RecordKey = "owner"
	}
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if c.RPOrigin == "" {
		c.RPOrigin = "http://localhost:8080"
	}
	if c.RPName == "" {
		c.RPName = "Vaultlite"
	}
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
}
