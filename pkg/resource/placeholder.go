package resource

import (
	"embed"
	"sync"
)

//go:embed assets/loading.png assets/error.png
var assets embed.FS

var (
	loadingOnce sync.Once
	loadingRes  *Resource

	errorOnce sync.Once
	errorRes  *Resource
)

// LoadingPlaceholder returns the built-in stand-in resource displayed while a
// load is in flight. The asset is decoded lazily on first use.
func LoadingPlaceholder() *Resource {
	loadingOnce.Do(func() {
		loadingRes = mustAsset("assets/loading.png")
	})
	return loadingRes
}

// ErrorPlaceholder returns the built-in stand-in resource substituted when a
// load fails.
func ErrorPlaceholder() *Resource {
	errorOnce.Do(func() {
		errorRes = mustAsset("assets/error.png")
	})
	return errorRes
}

// mustAsset decodes an embedded asset. Embedded assets are compiled in, so a
// failure here is a build defect, not a runtime condition.
func mustAsset(name string) *Resource {
	data, err := assets.ReadFile(name)
	if err != nil {
		panic("asyncload: missing embedded asset " + name + ": " + err.Error())
	}
	res, err := Decode(name, data)
	if err != nil {
		panic("asyncload: corrupt embedded asset " + name + ": " + err.Error())
	}
	return res
}
