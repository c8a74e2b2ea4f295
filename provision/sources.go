package provision

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/blang/semver"
	"github.com/google/go-github/v27/github"
	"google.golang.org/api/option"
)

// chromiumBucket is the GCS bucket holding continuous Chromium builds and
// the matching chromedriver archives.
const chromiumBucket = "chromium-browser-snapshots"

var chromiumPrefixes = map[string]string{
	Linux64: "Linux_x64",
	Mac64:   "Mac",
	Win32:   "Win",
}

// ChromiumSource locates chromedriver builds in the Chromium snapshot
// bucket. The version constraint, when set, is an exact snapshot build
// number; empty resolves to the bucket's LAST_CHANGE build.
type ChromiumSource struct {
	client *http.Client
}

// NewChromiumSource returns a ChromiumSource that downloads over client.
func NewChromiumSource(client *http.Client) *ChromiumSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChromiumSource{client: client}
}

// Lookup implements Source.
func (s *ChromiumSource) Lookup(ctx context.Context, constraint, platform string) (Release, error) {
	prefix, ok := chromiumPrefixes[platform]
	if !ok {
		return Release{}, fmt.Errorf("chromium: unsupported platform %q", platform)
	}

	client, err := storage.NewClient(ctx, option.WithHTTPClient(s.client))
	if err != nil {
		return Release{}, fmt.Errorf("chromium: creating storage client: %w", err)
	}
	defer client.Close()
	bkt := client.Bucket(chromiumBucket)

	build := constraint
	if build == "" {
		r, err := bkt.Object(path.Join(prefix, "LAST_CHANGE")).NewReader(ctx)
		if err != nil {
			return Release{}, fmt.Errorf("chromium: reading LAST_CHANGE: %w", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return Release{}, fmt.Errorf("chromium: reading LAST_CHANGE: %w", err)
		}
		build = strings.TrimSpace(string(data))
	}

	archive := fmt.Sprintf("chromedriver_%s.zip", platform)
	object := path.Join(prefix, build, archive)
	attrs, err := bkt.Object(object).Attrs(ctx)
	if err != nil {
		return Release{}, fmt.Errorf("chromium: no chromedriver for build %s: %w", build, err)
	}

	return Release{
		Version:       build,
		URL:           attrs.MediaLink,
		Hash:          hex.EncodeToString(attrs.MD5),
		HashType:      "md5",
		ArchiveMember: fmt.Sprintf("chromedriver_%s/chromedriver", platform),
	}, nil
}

// GeckoSource locates geckodriver releases on GitHub. The version constraint
// is a semver range evaluated against release tags; the highest satisfying
// release wins.
type GeckoSource struct {
	releases releaseLister
}

// releaseLister is the slice of the GitHub API the source needs. Narrowed
// for tests.
type releaseLister interface {
	ListReleases(ctx context.Context, owner, repo string, opt *github.ListOptions) ([]*github.RepositoryRelease, *github.Response, error)
}

// NewGeckoSource returns a GeckoSource talking to api.github.com via client.
// A nil client uses unauthenticated access.
func NewGeckoSource(client *http.Client) *GeckoSource {
	return &GeckoSource{releases: github.NewClient(client).Repositories}
}

// Lookup implements Source.
func (s *GeckoSource) Lookup(ctx context.Context, constraint, platform string) (Release, error) {
	rng := semver.Range(func(semver.Version) bool { return true })
	if constraint != "" {
		parsed, err := semver.ParseRange(constraint)
		if err != nil {
			return Release{}, fmt.Errorf("gecko: invalid version constraint %q: %w", constraint, err)
		}
		rng = parsed
	}

	rels, _, err := s.releases.ListReleases(ctx, "mozilla", "geckodriver", &github.ListOptions{PerPage: 50})
	if err != nil {
		return Release{}, fmt.Errorf("gecko: listing releases: %w", err)
	}

	type candidate struct {
		version semver.Version
		rel     *github.RepositoryRelease
	}
	var candidates []candidate
	for _, rel := range rels {
		v, err := semver.Parse(strings.TrimPrefix(rel.GetTagName(), "v"))
		if err != nil || !rng(v) {
			continue
		}
		candidates = append(candidates, candidate{v, rel})
	}
	if len(candidates) == 0 {
		return Release{}, fmt.Errorf("gecko: no release satisfies constraint %q", constraint)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].version.GT(candidates[j].version)
	})
	best := candidates[0]

	assetRE, err := regexp.Compile(fmt.Sprintf(`geckodriver-.*%s\.(tar\.gz|zip)$`, regexp.QuoteMeta(platform)))
	if err != nil {
		return Release{}, err
	}
	for _, a := range best.rel.Assets {
		if !assetRE.MatchString(a.GetName()) {
			continue
		}
		u := a.GetBrowserDownloadURL()
		if u == "" {
			return Release{}, fmt.Errorf("gecko: asset %s has no download URL", a.GetName())
		}
		member := "geckodriver"
		if platform == Win32 {
			member = "geckodriver.exe"
		}
		return Release{
			Version:       best.version.String(),
			URL:           u,
			ArchiveMember: member,
		}, nil
	}
	return Release{}, fmt.Errorf("gecko: release %s has no asset for platform %q", best.rel.GetTagName(), platform)
}

// StaticSource serves a pre-installed driver binary, for CI images that bake
// drivers in and for tests.
type StaticSource struct {
	Version string
	Path    string
}

// Lookup implements Source.
func (s StaticSource) Lookup(ctx context.Context, constraint, platform string) (Release, error) {
	if constraint != "" && constraint != s.Version {
		rng, err := semver.ParseRange(constraint)
		if err != nil {
			return Release{}, fmt.Errorf("static: invalid version constraint %q: %w", constraint, err)
		}
		v, err := semver.Parse(s.Version)
		if err != nil {
			return Release{}, fmt.Errorf("static: version %q is not semver: %w", s.Version, err)
		}
		if !rng(v) {
			return Release{}, fmt.Errorf("static: installed version %s does not satisfy %q", s.Version, constraint)
		}
	}
	return Release{Version: s.Version, LocalPath: s.Path}, nil
}
