package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/crawler"
)

func TestParseGroups(t *testing.T) {
	groups, err := parseGroups([]string{"usb cable| usb-c cable |", "phone case"})
	require.NoError(t, err)
	require.Equal(t, []crawler.QueryGroup{{"usb cable", "usb-c cable"}, {"phone case"}}, groups)

	_, err = parseGroups(nil)
	require.Error(t, err)

	_, err = parseGroups([]string{" | "})
	require.Error(t, err)
}

func TestWriteResult(t *testing.T) {
	result := crawler.ResultSet{
		"https://www.aliexpress.com/store/1": {
			7: {ID: 7, Title: "cable", StoreLink: "https://www.aliexpress.com/store/1"},
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeResult(&out, "", result))
	require.Contains(t, out.String(), `"product_id": 7`)

	path := filepath.Join(t.TempDir(), "stores.json")
	require.NoError(t, writeResult(&out, path, nil))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{}\n", string(data))
}

func TestSearchRequiresQuery(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"search"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestRootLoadsConfigBeforeSubcommands(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "load config")
}

func TestRuntimeFromEmptyContext(t *testing.T) {
	_, err := runtimeFrom(context.Background())
	require.Error(t, err)
}
