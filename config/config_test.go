package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kunom/tfs2git/tfsmodel"
)

func userFixture(id int64, domain, login, displayName string) tfsmodel.User {
	return tfsmodel.User{InternalID: id, Domain: domain, Login: login, DisplayName: displayName}
}

const defaultConfig = `
driver:	mysql
dsn:	tfs:tfs@tcp(localhost:3306)/tfs_vcs
scratch_dir:	/tmp/tfs2git
branch_mappings:
exclude:
`

func checkValue(t *testing.T, fieldname string, val string, expected string) {
	if val != expected {
		t.Fatalf("Error parsing %s, expected '%v' got '%v'", fieldname, expected, val)
	}
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	checkValue(t, "Driver", cfg.Driver, "mysql")
	checkValue(t, "DSN", cfg.DSN, "tfs:tfs@tcp(localhost:3306)/tfs_vcs")
	checkValue(t, "ScratchDir", cfg.ScratchDir, "/tmp/tfs2git")
	assert.Empty(t, cfg.BranchMappings)
}

func TestEmptyConfig(t *testing.T) {
	cfg := loadOrFail(t, "")
	checkValue(t, "Driver", cfg.Driver, DefaultDriver)
	checkValue(t, "DSN", cfg.DSN, "")
	assert.Equal(t, DefaultDiskModeThreshold, cfg.DiskModeThreshold)
	assert.Empty(t, cfg.BranchMappings)
}

func TestMap1(t *testing.T) {
	const cfgString = `
branch_mappings:
- pattern: 	'^\$/Proj/main/(.*)$'
  branch:	main
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 1, len(cfg.BranchMappings))
	assert.Equal(t, "main", cfg.BranchMappings[0].Branch)

	branch, relPath, ok := cfg.branchExtract(`$/Proj/main/src/a.txt`)
	assert.True(t, ok)
	assert.Equal(t, "main", branch)
	assert.Equal(t, "src/a.txt", relPath)
}

func TestMap2WithPrefix(t *testing.T) {
	const cfgString = `
branch_mappings:
- pattern:	'^\$/Proj/releases/(\d+)/(.*)$'
  branch:	'release'
  prefix:	'rel-'
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 1, len(cfg.BranchMappings))
	assert.Equal(t, "release", cfg.BranchMappings[0].Branch)
	assert.Equal(t, "rel-", cfg.BranchMappings[0].Prefix)

	// the pattern's capturing groups are numbered but only the FIRST one
	// (here the release number) is used as the relative path; this
	// mapping is deliberately a bad fit and serves only to document that
	// only group 1 is consulted.
	branch, _, ok := cfg.branchExtract(`$/Proj/releases/12/bin/a.dll`)
	assert.True(t, ok)
	assert.Equal(t, "rel-release", branch)
}

func TestUnmatchedPathIsDropped(t *testing.T) {
	const cfgString = `
branch_mappings:
- pattern: 	'^\$/Proj/main/(.*)$'
  branch:	main
`
	cfg := loadOrFail(t, cfgString)
	_, _, ok := cfg.branchExtract(`$/Other/main/a.txt`)
	assert.False(t, ok)
}

func TestExcludeGlob(t *testing.T) {
	const cfgString = `
exclude:
- '*.obj'
- 'bin/*'
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, 2, len(cfg.ExcludeGlobs))
	assert.False(t, cfg.fileFilter("main", "foo.obj"))
	assert.False(t, cfg.fileFilter("main", "bin/a.dll"))
	assert.True(t, cfg.fileFilter("main", "src/a.cs"))
}

func TestRegex(t *testing.T) {
	const cfgString = `
branch_mappings:
- pattern: 	'main.*['
  branch:	fred
`
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected regex error not seen")
	}
}

func TestRegexRequiresCapturingGroup(t *testing.T) {
	const cfgString = `
branch_mappings:
- pattern: 	'^\$/Proj/main/.*$'
  branch:	main
`
	ensureFail(t, cfgString, "capturing group")
}

func TestInvalidGlob(t *testing.T) {
	const cfgString = `
exclude:
- '['
`
	ensureFail(t, cfgString, "glob")
}

func TestInvalidTimezone(t *testing.T) {
	const cfgString = `
user_overrides:
  'DOMAIN\jdoe':
    display_name: Jane Doe
    timezone: Nowhere/Imaginary
`
	ensureFail(t, cfgString, "timezone")
}

func TestUserOverrideAppliesDisplayNameAndEmail(t *testing.T) {
	const cfgString = `
user_overrides:
  'DOMAIN\jdoe':
    display_name: Jane Doe
    email: jane@example.com
    timezone: America/Chicago
`
	cfg := loadOrFail(t, cfgString)
	resolved, err := cfg.userLookup(userFixture(1, "DOMAIN", "jdoe", "jdoe"))
	if err != nil {
		t.Fatalf("userLookup failed: %v", err)
	}
	checkValue(t, "DisplayName", resolved.DisplayName, "Jane Doe")
	checkValue(t, "Email", resolved.Email, "jane@example.com")
	assert.Equal(t, "America/Chicago", resolved.Timezone.String())
}

func TestUserLookupDefaultsWithoutOverride(t *testing.T) {
	cfg := loadOrFail(t, "")
	resolved, err := cfg.userLookup(userFixture(1, "DOMAIN", "jdoe", "Jane Doe"))
	if err != nil {
		t.Fatalf("userLookup failed: %v", err)
	}
	checkValue(t, "DisplayName", resolved.DisplayName, "Jane Doe")
	checkValue(t, "Email", resolved.Email, "jdoe@domain")
	assert.Equal(t, "UTC", resolved.Timezone.String())
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	t.Logf("Config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}
