package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kvexpr/phkv/lib/phvl"
	"github.com/kvexpr/phkv/lib/store"
)

var (
	storeKind string
	storeTTL  time.Duration
)

var storeCmd = &cobra.Command{
	Use:   "store [path] [value]",
	Short: "Stores a value at a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := parseValue(storeKind, args[1])
		if err != nil {
			return err
		}
		if err := activeStore.Store(args[0], val, storeTTL); err != nil {
			return err
		}
		fmt.Println("stored successfully")
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [path]",
	Short: "Reads the value stored at a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, found, err := activeStore.Lookup(args[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("path=%s, found=false\n", args[0])
			return nil
		}
		fmt.Printf("path=%s, found=true, value=%s\n", args[0], formatValue(val))
		return nil
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase [path]",
	Short: "Erases the key at a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := activeStore.EraseKey(args[0]); err != nil {
			return err
		}
		fmt.Println("erased successfully")
		return nil
	},
}

var eraseDirCmd = &cobra.Command{
	Use:   "erasedir [path]",
	Short: "Erases a directory and everything beneath it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := activeStore.EraseDirRecursive(args[0]); err != nil {
			return err
		}
		fmt.Println("erased directory successfully")
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "Lists the immediate contents of a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := activeStore.GetDirEntries(args[0])
		if err != nil {
			return err
		}
		for _, e := range entries {
			kind := "dir"
			if e.Kind == store.KindKey {
				kind = "key"
			}
			fmt.Printf("%-4s %s\n", kind, e.Name)
		}
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Dumps Prometheus-format metrics for this process's store instance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		activeStore.WriteMetrics(os.Stdout)
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeKind, "kind", "string", wrapString(
		"Value kind: u8, u16, u32, u64, f32, f64, string, bytes"))
	storeCmd.Flags().DurationVar(&storeTTL, "ttl", 0, wrapString(
		"Time-to-live for the stored value; 0 means no expiration"))
}

func parseValue(kind, raw string) (phvl.Value, error) {
	switch kind {
	case "u8":
		n, err := strconv.ParseUint(raw, 10, 8)
		return phvl.NewU8(uint8(n)), err
	case "u16":
		n, err := strconv.ParseUint(raw, 10, 16)
		return phvl.NewU16(uint16(n)), err
	case "u32":
		n, err := strconv.ParseUint(raw, 10, 32)
		return phvl.NewU32(uint32(n)), err
	case "u64":
		n, err := strconv.ParseUint(raw, 10, 64)
		return phvl.NewU64(n), err
	case "f32":
		n, err := strconv.ParseFloat(raw, 32)
		return phvl.NewF32(float32(n)), err
	case "f64":
		n, err := strconv.ParseFloat(raw, 64)
		return phvl.NewF64(n), err
	case "string":
		return phvl.NewString(raw), nil
	case "bytes":
		return phvl.NewBytes([]byte(raw)), nil
	default:
		return phvl.Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

func formatValue(v phvl.Value) string {
	switch v.Kind {
	case phvl.KindU8:
		return strconv.FormatUint(uint64(v.U8()), 10)
	case phvl.KindU16:
		return strconv.FormatUint(uint64(v.U16()), 10)
	case phvl.KindU32:
		return strconv.FormatUint(uint64(v.U32()), 10)
	case phvl.KindU64:
		return strconv.FormatUint(v.U64(), 10)
	case phvl.KindF32:
		return strconv.FormatFloat(float64(v.F32()), 'g', -1, 32)
	case phvl.KindF64:
		return strconv.FormatFloat(v.F64(), 'g', -1, 64)
	case phvl.KindString:
		return v.String()
	case phvl.KindBytes:
		return string(v.Bytes())
	default:
		return ""
	}
}
