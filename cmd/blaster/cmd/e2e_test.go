package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/OpenTraceBlaster/pkg/chain"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	// Reset flags to prevent accumulation between tests
	verbose = false
	configPath = ""
	adapterType = ""
	adapterSpeed = 0
	deviceCount = 0
	maxIRBits = chain.DefaultMaxIRBits
	continueOnMismatch = false
	stockImage = false
	forceInit = false

	rootCmd.SetArgs(args)
	err = rootCmd.Execute()

	w.Close()
	os.Stdout = old
	<-done
	return buf.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestScanE2E tests the scan command end-to-end on the simulated chain
func TestScanE2E(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "emulated USB-Blaster",
			args: []string{"scan", "--adapter", "emulator"},
			wantContain: []string{
				"JTAG chain: 2 device(s), IR length 20 bits",
				"0x020F30DD",
				"EP4CE22",
				"0x020A10DD",
				"EPM240",
			},
		},
		{
			name: "bit-bang with known count",
			args: []string{"scan", "--adapter", "bitbang", "--count", "2", "--speed", "1000000"},
			wantContain: []string{
				"2 device(s)",
				"Cyclone IV E",
				"MAX II",
			},
		},
		{
			name:        "verbose details",
			args:        []string{"scan", "-a", "emulator", "-v"},
			wantContain: []string{"Adapter Information:", "FPGA, IR 10 bits", "CPLD, IR 10 bits"},
		},
		{
			name:    "unknown adapter",
			args:    []string{"scan", "--adapter", "jlink"},
			wantErr: true,
		},
		{
			name:    "speed above the cable clock",
			args:    []string{"scan", "--adapter", "emulator", "--speed", "24000000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

// TestSVFE2E plays SVF through both host adapters
func TestSVFE2E(t *testing.T) {
	good := writeFile(t, "idcode.svf", `! read the MAX II IDCODE behind the Cyclone
TIR 10 TDI (3FF);
TDR 1 TDI (0);
SIR 10 TDI (006);
SDR 32 TDI (00000000) TDO (020A10DD);
`)
	bad := writeFile(t, "bad.svf", "TIR 10 TDI (3FF);\nTDR 1 TDI (0);\nSIR 10 TDI (006);\nSDR 32 TDI (0) TDO (12345678);\n")

	for _, adapter := range []string{"emulator", "bitbang"} {
		t.Run(adapter, func(t *testing.T) {
			output, err := execute(t, "svf", "--adapter", adapter, good)
			if err != nil {
				t.Fatalf("svf returned error: %v\nOutput: %s", err, output)
			}
			if !strings.Contains(output, "4 scan(s), 1 verified, 0 mismatch(es)") {
				t.Errorf("unexpected stats:\n%s", output)
			}
		})
	}

	output, err := execute(t, "svf", "--adapter", "bitbang", "--continue", bad)
	if err == nil || !strings.Contains(err.Error(), "TDO mismatch") {
		t.Fatalf("error = %v, want a TDO mismatch", err)
	}
	if !strings.Contains(output, "1 mismatch(es)") {
		t.Errorf("unexpected stats:\n%s", output)
	}

	if _, err := execute(t, "svf", "--adapter", "bitbang", "/nonexistent/file.svf"); err == nil {
		t.Errorf("Expected error for a missing file")
	}
	if _, err := execute(t, "svf"); err == nil {
		t.Errorf("Expected error for a missing argument")
	}
}

func TestEEPROME2E(t *testing.T) {
	for _, args := range [][]string{
		{"eeprom", "--stock"},
		{"eeprom", "--adapter", "emulator"},
	} {
		output, err := execute(t, args...)
		if err != nil {
			t.Fatalf("%v returned error: %v\nOutput: %s", args, err, output)
		}
		for _, want := range []string{"Checksum: OK", "09FB:6001", "USB-Blaster", "Altera"} {
			if !strings.Contains(output, want) {
				t.Errorf("%v output missing %q\nGot:\n%s", args, want, output)
			}
		}
	}
	if _, err := execute(t, "eeprom", "--adapter", "bitbang"); err == nil {
		t.Errorf("Expected error reading the EEPROM of a bit-bang adapter")
	}
}

func TestDescriptorsE2E(t *testing.T) {
	output, err := execute(t, "descriptors")
	if err != nil {
		t.Fatalf("descriptors returned error: %v", err)
	}
	for _, want := range []string{"Device descriptor (18 bytes)", "Configuration descriptor (32 bytes)", `"USB-Blaster"`, "language table"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
		}
	}
}

func TestConfigE2E(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blaster.yml")
	output, err := execute(t, "config", "init", path)
	if err != nil || !strings.Contains(output, "Wrote "+path) {
		t.Fatalf("config init = %v\nOutput: %s", err, output)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Fatalf("config init overwrote an existing file")
	}
	if _, err := execute(t, "config", "init", "--force", path); err != nil {
		t.Fatalf("config init --force = %v", err)
	}

	output, err = execute(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show = %v", err)
	}
	for _, want := range []string{"backend: sim", "heartbeat: 10ms", "busid: 1-1", "3240"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
		}
	}

	bad := writeFile(t, "bad.yml", "emulator:\n  heartbeat: 1s\n")
	if _, err := execute(t, "--config", bad, "config", "show"); err == nil {
		t.Errorf("Expected error for an invalid heartbeat")
	}
	if _, err := execute(t, "--config", "/nonexistent/blaster.yml", "config", "show"); err == nil {
		t.Errorf("Expected error for a missing explicit config")
	}
}
