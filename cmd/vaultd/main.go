package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"vaultlite/internal/platform"
	"vaultlite/internal/server"
)

func main() {
	if err := platform.DisableCoreDumps(); err != nil {
		log.Printf("core dumps not disabled: %v", err)
	}

	addr := flag.String("addr", ":8080", "listen address")
	mongoURI := flag.String("mongo", os.Getenv("VAULTD_MONGO_URI"), "MongoDB URI (empty: file store)")
	mongoDB := flag.String("db", "vaultlite", "Mongo database name")
	coll := flag.String("coll", "records", "Mongo collection name")
	dataDir := flag.String("data", "./data", "data directory for the file store")
	rpID := flag.String("rp-id", "localhost", "relying party id for passkeys")
	rpOrigin := flag.String("rp-origin", "http://localhost:8080", "relying party origin")
	rpName := flag.String("rp-name", "Vaultlite", "relying party display name")
	challengeTTL := flag.Duration("challenge-ttl", 5*time.Minute, "passkey challenge lifetime")
	flag.Parse()

	cfg := server.Config{
		Addr:         *addr,
		MongoURI:     *mongoURI,
		MongoDB:      *mongoDB,
		Collection:   *coll,
		DataDir:      *dataDir,
		RPID:         *rpID,
		RPOrigin:     *rpOrigin,
		RPName:       *rpName,
		ServerSecret: os.Getenv("VAULTD_SECRET"),
		ChallengeTTL: *challengeTTL,
	}

	ctx := context.Background()
	s, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close(context.Background())

	log.Fatal(s.ListenAndServe())
}
