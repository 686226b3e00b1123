package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kvexpr/phkv/lib/mount"
	"github.com/kvexpr/phkv/lib/plog"
	"github.com/kvexpr/phkv/lib/store"
)

// wrapString matches the teacher's WrapString: a 50-column soft-wrap for
// flag help text.
const helpWrap = 50

func wrapString(text string) string {
	var lines []string
	var cur strings.Builder
	width := 0
	for _, word := range strings.Fields(text) {
		w := len(word)
		if width > 0 && width+1+w > helpWrap {
			lines = append(lines, cur.String())
			cur.Reset()
			width = 0
		}
		if width > 0 {
			cur.WriteString(" ")
			width++
		}
		cur.WriteString(word)
		width += w
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}

// initConfig loads .env files and wires environment variables prefixed
// PHKV_ into viper, the same pattern the teacher uses for DKV_.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("phkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("mounts", "", wrapString(
		"Comma-separated list of volumes to mount before running the command. "+
			"Format: name=dir@mountPath (mountPath may be empty for the root mount, e.g. name=dir@)"))
	cmd.PersistentFlags().Int("cache-pool-size", store.DefaultOptions().CachePoolSize, wrapString(
		"Maximum number of directory-cache nodes to keep resident"))
	cmd.PersistentFlags().String("log-level", "info", wrapString(
		"Log level (debug, info, warn, error)"))
}

func bindPersistentFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.PersistentFlags())
}

// mountSpec is one parsed "name=dir@mountPath" entry.
type mountSpec struct {
	Name      string
	Dir       string
	MountPath string
}

func parseMounts(raw string) ([]mountSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var specs []mountSpec
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, dirAndPath, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid mount %q: expected name=dir@mountPath", part)
		}
		dir, mountPath, ok := strings.Cut(dirAndPath, "@")
		if !ok {
			return nil, fmt.Errorf("invalid mount %q: expected name=dir@mountPath", part)
		}
		specs = append(specs, mountSpec{Name: name, Dir: dir, MountPath: mountPath})
	}
	return specs, nil
}

// buildStoreFromFlags reads --mounts/--cache-pool-size/--log-level from
// viper and returns a Store with every declared volume mounted, creating
// each volume's on-disk files the first time its <name>.phkvsmain file
// does not exist in its directory.
func buildStoreFromFlags() (*store.Store, error) {
	plog.SetGlobalLevel(plog.ParseLevel(viper.GetString("log-level")))

	opts := store.DefaultOptions()
	if n := viper.GetInt("cache-pool-size"); n > 0 {
		opts.CachePoolSize = n
	}
	s := store.New(opts)

	specs, err := parseMounts(viper.GetString("mounts"))
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if _, err := mountOrCreate(s, spec); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mounting %q: %w", spec.Name, err)
		}
	}
	return s, nil
}

// mountOrCreate opens spec's volume if its files already exist on disk,
// or creates a fresh one otherwise, then mounts it (spec §6's
// createAndMountVolume / mountVolume, chosen automatically by this CLI
// rather than by two separate subcommands).
func mountOrCreate(s *store.Store, spec mountSpec) (mount.VolumeID, error) {
	mainFile := filepath.Join(spec.Dir, spec.Name+".phkvsmain")
	if _, err := os.Stat(mainFile); err == nil {
		return s.Mount(spec.Name, spec.Dir, spec.MountPath)
	}
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		return 0, err
	}
	return s.CreateAndMount(spec.Name, spec.Dir, spec.MountPath)
}
