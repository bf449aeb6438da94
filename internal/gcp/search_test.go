package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSitePattern(t *testing.T) {
	cases := map[string]string{
		"https://acme.example":         "acme.example/*",
		"https://Acme.Example/":        "acme.example/*",
		"http://acme.example/shop/":    "acme.example/shop/*",
		"acme.example":                 "acme.example/*",
		" https://acme.example/a?b=c ": "acme.example/a/*",
	}
	for in, want := range cases {
		got, err := TargetSitePattern(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := TargetSitePattern("")
	assert.Error(t, err)
	_, err = TargetSitePattern("https://")
	assert.Error(t, err)
}

func TestSearchPaths(t *testing.T) {
	p := &SearchProvisioner{config: SearchConfig{ProjectID: "proj", Location: "global", Collection: "default_collection"}}
	assert.Equal(t, "projects/proj/locations/global/collections/default_collection", p.collectionPath())
	assert.Equal(t, "projects/proj/locations/global/collections/default_collection/dataStores/acme-co-engine", p.dataStorePath("acme-co-engine"))
}

func TestStorageURI(t *testing.T) {
	s := &Storage{bucketName: "merchant-bucket"}
	assert.Equal(t, "gs://merchant-bucket/merchants/acme-co/training_files/products.ndjson", s.URI("merchants/acme-co/training_files/products.ndjson"))
	assert.Equal(t, "merchant-bucket", s.BucketName())
}
