package common

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/mktdata-loader/models"
)

func TestSanitizeAndValidateTickers(t *testing.T) {
	tests := []struct {
		name        string
		input       []string
		wantValid   []string
		wantInvalid []string
	}{
		{
			name:      "clean input",
			input:     []string{"AAPL", "MSFT"},
			wantValid: []string{"AAPL", "MSFT"},
		},
		{
			name:      "whitespace, case and dollar sign",
			input:     []string{" aapl ", "$nvda", `"brk.b"`},
			wantValid: []string{"AAPL", "NVDA", "BRK.B"},
		},
		{
			name:      "duplicates keep first",
			input:     []string{"SPY", "spy", "QQQ"},
			wantValid: []string{"SPY", "QQQ"},
		},
		{
			name:        "invalid entries",
			input:       []string{"", "A B", "TOOLONGTICKER1", "BF-B"},
			wantValid:   []string{"BF-B"},
			wantInvalid: []string{"", "A B", "TOOLONGTICKER1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, invalid := SanitizeAndValidateTickers(tt.input)
			if !reflect.DeepEqual(valid, tt.wantValid) {
				t.Errorf("valid = %v, want %v", valid, tt.wantValid)
			}
			if !reflect.DeepEqual(invalid, tt.wantInvalid) {
				t.Errorf("invalid = %v, want %v", invalid, tt.wantInvalid)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" AAPL, ,MSFT,,")
	want := []string{"AAPL", "MSFT"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList() = %v, want %v", got, want)
	}
	if got := SplitList(""); got != nil {
		t.Errorf("SplitList(\"\") = %v, want nil", got)
	}
}

func TestParseListing(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "nasdaq other-listed layout",
			input: "ACT Symbol,Security Name,Exchange\nA,Agilent,N\nAA,Alcoa,N\n",
			want:  []string{"A", "AA"},
		},
		{
			name:  "symbol column not first",
			input: "\ufeffname,symbol\nApple,AAPL\nBlank,\nMicrosoft,MSFT\n",
			want:  []string{"AAPL", "MSFT"},
		},
		{
			name:    "no symbol column",
			input:   "name,exchange\nApple,Q\n",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseListing(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseListing() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseListing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadListing_MissingFile(t *testing.T) {
	if _, err := ReadListing(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("ReadListing() of missing file should fail")
	}
}

func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("config", "", "")
	set.String("db", "", "")
	set.String("driver", "", "")
	set.String("api-key", "", "")
	set.Int("workers", 0, "")
	set.String("on-active", "", "")
	set.String("open-bar-policy", "", "")
	if err := set.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mdl.yaml")
	yamlCfg := "database:\n  dsn: file.db\nprovider:\n  api_key: from-file\nworkers: 2\n"
	if err := os.WriteFile(path, []byte(yamlCfg), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(newContext(t, "--config", path, "--workers", "8", "--open-bar-policy", "update-open"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.DSN != "file.db" {
		t.Errorf("DSN = %q, want file.db", cfg.Database.DSN)
	}
	if cfg.Provider.APIKey != "from-file" {
		t.Errorf("APIKey = %q, want from-file", cfg.Provider.APIKey)
	}
	if cfg.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
	if cfg.Intraday.OpenBarPolicy != models.OpenBarUpdate {
		t.Errorf("OpenBarPolicy = %q, want %q", cfg.Intraday.OpenBarPolicy, models.OpenBarUpdate)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := LoadConfig(newContext(t, "--on-active", "sometimes")); err == nil {
		t.Error("LoadConfig() should reject an unknown on-active policy")
	}
	if _, err := LoadConfig(newContext(t, "--driver", "mysql")); err == nil {
		t.Error("LoadConfig() should reject an unknown driver")
	}
}

func TestParseDigitalListing(t *testing.T) {
	input := "currency code,currency name\nBTC,Bitcoin\n eth ,Ethereum\n,Nameless\nBAD CODE!,Broken\n"
	symbols, invalid, err := parseDigitalListing(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseDigitalListing() error = %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("parseDigitalListing() = %d symbols, want 2", len(symbols))
	}
	if symbols[1].Symbol != "ETH" || symbols[1].Name != "Ethereum" || symbols[1].SecType != models.SecCrypto {
		t.Errorf("second symbol = %+v", symbols[1])
	}
	if !reflect.DeepEqual(invalid, []string{"BAD CODE!"}) {
		t.Errorf("invalid = %v, want [BAD CODE!]", invalid)
	}

	if _, _, err := parseDigitalListing(strings.NewReader("symbol,exchange\nBTC,X\n")); err == nil {
		t.Error("listing without a name column should fail")
	}
}
