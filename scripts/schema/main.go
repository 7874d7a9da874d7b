// Command schema creates the keyspace and every table. Services run the
// same migration on startup; this tool exists for provisioning a cluster
// before first deploy.
package main

import (
	"flag"
	"strings"

	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/logger"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/store"
)

func main() {
	hosts := flag.String("hosts", "localhost:9042", "comma-separated scylla hosts")
	keyspace := flag.String("keyspace", "chat", "keyspace name")
	flag.Parse()

	log := logger.New(true)
	defer log.Sync()

	hostList := strings.Split(*hosts, ",")
	if err := store.EnsureKeyspace(hostList, *keyspace); err != nil {
		log.Fatal("ensure keyspace", zap.Error(err))
	}

	session, err := store.NewSession(hostList, *keyspace)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer session.Close()

	if err := store.New(session, log).EnsureSchema(); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}
	log.Info("schema created", zap.String("keyspace", *keyspace))
}
