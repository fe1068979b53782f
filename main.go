package main

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"

	"burrow-db/btree"
	"burrow-db/buffer"
	"burrow-db/logging"
	"burrow-db/record"

	"github.com/pelletier/go-toml"
)

const demoTupleLen = 16

type demoConfig struct {
	Dir        string `toml:"dir"`
	PoolFrames int    `toml:"pool_frames"`
	TupleCount int    `toml:"tuple_count"`
}

func loadConfig() demoConfig {
	cfg := demoConfig{
		Dir:        "./data",
		PoolFrames: 64,
		TupleCount: 500,
	}
	if data, err := os.ReadFile("burrow.toml"); err == nil {
		toml.Unmarshal(data, &cfg)
	}
	return cfg
}

func main() {
	logger := logging.CreateDebugLogger()
	cfg := loadConfig()

	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		logger.Error().Err(err).Msg("failed to create data directory")
		return
	}

	pool, err := buffer.NewPool(logger, cfg.PoolFrames)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create buffer pool")
		return
	}

	// build a relation of synthetic tuples: int32 key at offset 0, filler after
	relationPath := filepath.Join(cfg.Dir, "listings")
	relation, err := record.NewHeapFile(logger, pool, relationPath, demoTupleLen)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create relation")
		return
	}

	tuple := make([]byte, demoTupleLen)
	for i := 0; i < cfg.TupleCount; i++ {
		binary.LittleEndian.PutUint32(tuple[0:4], uint32(rand.Int31n(int32(cfg.TupleCount)*4)))
		if _, err := relation.Append(tuple); err != nil {
			logger.Error().Err(err).Msg("failed to append tuple")
			return
		}
	}
	// flush so the index build scans what was written
	if err := relation.Close(); err != nil {
		return
	}
	logger.Info().Int("tuples", cfg.TupleCount).Str("relation", relationPath).Msg("relation ready")

	opts := btree.DefaultOptions("listings", 0)
	opts.Dir = cfg.Dir
	opts.RelationFile = relationPath
	index, indexName, err := btree.NewIndex(logger, pool, opts)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build index")
		return
	}
	logger.Info().Str("index", indexName).Msg("index ready")

	low, high := int32(100), int32(900)
	if err := index.StartScan(low, btree.GTE, high, btree.LTE); err != nil {
		logger.Error().Err(err).Msg("failed to start scan")
		return
	}
	visited := 0
	for {
		if _, err := index.ScanNext(); err != nil {
			break
		}
		visited++
	}
	index.EndScan()
	logger.Info().Int32("low", low).Int32("high", high).Int("entries", visited).Msg("range scan done")

	stats := pool.Stats()
	logger.Info().
		Uint64("accesses", stats.Accesses).
		Uint64("diskReads", stats.DiskReads).
		Uint64("diskWrites", stats.DiskWrites).
		Msg("buffer pool statistics")

	index.Close()
	pool.Close()
}
