package symbols

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.csv")
	content := "symbol,name\naapl,Apple\nMSFT,Microsoft\n,blank\nAAPL,dup\nGOOGL\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	want := []string{"AAPL", "MSFT", "GOOGL"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadCSV = %v, want %v", got, want)
	}
}

func TestLoadCSVMissing(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("LoadCSV(missing) returned nil error")
	}
}

func TestFilter(t *testing.T) {
	all := []string{"MSFT", "AAPL", "AMZN", "GOOGL", "A", "TSLA"}
	tests := []struct {
		name             string
		include, exclude []string
		want             []string
	}{
		{"no patterns keeps all sorted", nil, nil, []string{"A", "AAPL", "AMZN", "GOOGL", "MSFT", "TSLA"}},
		{"prefix", []string{"A*"}, nil, []string{"A", "AAPL", "AMZN"}},
		{"alternation", []string{"{msft,tsla}"}, nil, []string{"MSFT", "TSLA"}},
		{"exclude", []string{"A*"}, []string{"A"}, []string{"AAPL", "AMZN"}},
		{"length", []string{"????"}, nil, []string{"AAPL", "AMZN", "MSFT", "TSLA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(all, tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("Filter: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Filter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterBadPattern(t *testing.T) {
	if _, err := Filter([]string{"AAPL"}, []string{"[A-"}, nil); err == nil {
		t.Error("Filter accepted a malformed pattern")
	}
}
