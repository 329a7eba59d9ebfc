package masters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogs(t *testing.T, accounts, vendors string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, AccountsFile), []byte(accounts), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, VendorsFile), []byte(vendors), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeCatalogs(t,
		`[{"code":"5100","name":"水道光熱費","type":"Expense"},{"code":4000,"name":"売上高","direction":"income"}]`,
		`[{"code":"V1","name":"東京電力"},{"code":"V2","name":"旧取引先","active":false},{"id":"v-3","code":"V3","name":"ABC商事","active":true}]`,
	)

	tests := []struct {
		name        string
		activeOnly  bool
		wantVendors int
	}{
		{name: "all vendors", activeOnly: false, wantVendors: 3},
		{name: "active vendors", activeOnly: true, wantVendors: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, err := Load(context.Background(), DirSource{Dir: dir}, Options{ActiveVendorsOnly: tt.activeOnly})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if len(cat.Accounts) != 2 {
				t.Errorf("accounts = %d, want 2", len(cat.Accounts))
			}
			if len(cat.Vendors) != tt.wantVendors {
				t.Errorf("vendors = %d, want %d", len(cat.Vendors), tt.wantVendors)
			}
			if cat.Accounts[1].Code != "4000" {
				t.Errorf("numeric code = %q, want 4000", cat.Accounts[1].Code)
			}
			if cat.Accounts[0].Kind() != "expense" || cat.Accounts[1].Kind() != "income" {
				t.Errorf("kinds = %q, %q", cat.Accounts[0].Kind(), cat.Accounts[1].Kind())
			}
		})
	}
}

func TestLoad_NotAList(t *testing.T) {
	dir := writeCatalogs(t, `{"name":"x"}`, `[]`)

	_, err := Load(context.Background(), DirSource{Dir: dir}, Options{})
	if !errors.Is(err, ErrNotAList) {
		t.Errorf("Load() error = %v, want ErrNotAList", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), DirSource{Dir: t.TempDir()}, Options{})
	if err == nil {
		t.Error("Load() expected error for missing files")
	}
}

type mockFetcher struct {
	FetchFromGCSFunc func(ctx context.Context, gcsURI string) ([]byte, error)
}

func (m *mockFetcher) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return m.FetchFromGCSFunc(ctx, gcsURI)
}

func TestGCSSource(t *testing.T) {
	var requested []string
	src := GCSSource{
		Prefix: "gs://bucket/masters/",
		Fetcher: &mockFetcher{
			FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
				requested = append(requested, gcsURI)
				return []byte(`[{"code":"1","name":"n"}]`), nil
			},
		},
	}

	cat, err := Load(context.Background(), src, Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cat.Accounts) != 1 || len(cat.Vendors) != 1 {
		t.Errorf("Load() = %+v", cat)
	}
	want := []string{"gs://bucket/masters/" + AccountsFile, "gs://bucket/masters/" + VendorsFile}
	for i, uri := range want {
		if requested[i] != uri {
			t.Errorf("requested[%d] = %q, want %q", i, requested[i], uri)
		}
	}
}

func TestCatalogs_Find(t *testing.T) {
	cat := &Catalogs{
		Accounts: []Account{{Code: "5100", Name: "水道光熱費"}},
		Vendors:  []Vendor{{ID: "v-1", Code: "V1", Name: "東京電力"}},
	}

	if v, ok := cat.FindVendor("V1"); !ok || v.Name != "東京電力" {
		t.Errorf("FindVendor(V1) = %+v, %v", v, ok)
	}
	if _, ok := cat.FindVendor("nope"); ok {
		t.Error("FindVendor(nope) should miss")
	}
	if a, ok := cat.FindAccount("水道光熱費"); !ok || a.Code != "5100" {
		t.Errorf("FindAccount() = %+v, %v", a, ok)
	}
	var nilCat *Catalogs
	if !nilCat.Empty() {
		t.Error("nil catalogs should be empty")
	}
}
