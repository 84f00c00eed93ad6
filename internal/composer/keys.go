package composer

// Composer index document keys. Only keys listed here are ever read or
// written; anything else in an upstream document is dropped on rebuild.
const (
	keyAutoload     = "autoload"
	keyAuthors      = "authors"
	keyBin          = "bin"
	keyConflict     = "conflict"
	keyDescription  = "description"
	keyDist         = "dist"
	keyExtra        = "extra"
	keyKeywords     = "keywords"
	keyLicense      = "license"
	keyName         = "name"
	keyPackages     = "packages"
	keyPackageNames = "packageNames"
	keyProvide      = "provide"
	keyProviders    = "providers"
	keyProvidersURL = "providers-url"
	keyReference    = "reference"
	keyRequire      = "require"
	keyRequireDev   = "require-dev"
	keySHA256       = "sha256"
	keyShasum       = "shasum"
	keySource       = "source"
	keySuggest      = "suggest"
	keyTargetDir    = "target-dir"
	keyTime         = "time"
	keyType         = "type"
	keyUID          = "uid"
	keyURL          = "url"
	keyVersion      = "version"
)

const zipType = "zip"

// passThroughKeys is the allow-list of version-record fields copied verbatim
// from a source record into a rebuilt one. The fields the builder computes
// itself (name, version, dist, time, uid) and the stripped source field are
// deliberately not in this list, so a source record can never overwrite them.
var passThroughKeys = []string{
	keyAutoload,
	keyAuthors,
	keyBin,
	keyConflict,
	keyDescription,
	keyExtra,
	keyKeywords,
	keyLicense,
	keyProvide,
	keyRequire,
	keyRequireDev,
	keySuggest,
	keyTargetDir,
	keyType,
}
