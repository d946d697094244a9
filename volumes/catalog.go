package volumes

import (
	"fmt"
	"log"
	"net/http"
)

// VolumeReference names a specific scan that can be downloaded from the
// tile server and mapped to a local cache directory, grounded on
// original_source/src/model.rs's VolumeReference trait.
type VolumeReference interface {
	// ID is the scan's timestamp identifier, e.g. "20230205180739".
	ID() string
	// SubDir is the on-disk directory this reference's tiles are cached
	// under, rooted at dataDir.
	SubDir(dataDir string) string
	// Label is a human-readable description for UI listings.
	Label() string
	// URLPathBase is the tile server URL path prefix for this reference.
	URLPathBase() string
}

// FullVolumeReference identifies a full scroll or fragment scan by scroll
// ID and volume timestamp, matching model.rs's FullVolumeReference.
type FullVolumeReference struct {
	ScrollID string
	Volume   string
}

func (f FullVolumeReference) ID() string { return f.Volume }

func (f FullVolumeReference) SubDir(dataDir string) string {
	return fmt.Sprintf("%s/scroll%s/%s/", dataDir, f.ScrollID, f.Volume)
}

func (f FullVolumeReference) Label() string {
	return fmt.Sprintf("Scroll %s / %s", f.ScrollID, f.Volume)
}

func (f FullVolumeReference) URLPathBase() string {
	return fmt.Sprintf("scroll/%s/volume/%s/", f.ScrollID, f.Volume)
}

// DynamicVolumeReference is a FullVolumeReference built at runtime from
// user-supplied IDs rather than one of the named constants below,
// matching model.rs's DynamicFullVolumeReference.
type DynamicVolumeReference struct {
	ScrollID string
	Volume   string
}

func NewDynamicVolumeReference(scrollID, volume string) DynamicVolumeReference {
	return DynamicVolumeReference{ScrollID: scrollID, Volume: volume}
}

func (d DynamicVolumeReference) ID() string { return d.Volume }

func (d DynamicVolumeReference) SubDir(dataDir string) string {
	return fmt.Sprintf("%s/scroll%s/%s/", dataDir, d.ScrollID, d.Volume)
}

func (d DynamicVolumeReference) Label() string {
	return fmt.Sprintf("Scroll %s / %s", d.ScrollID, d.Volume)
}

func (d DynamicVolumeReference) URLPathBase() string {
	return fmt.Sprintf("scroll/%s/volume/%s/", d.ScrollID, d.Volume)
}

// SurfaceVolumeReference identifies a flattened-surface (segment) scan,
// matching model.rs's SurfaceVolumeReference.
type SurfaceVolumeReference struct {
	ScrollID  string
	SegmentID string
}

func (s SurfaceVolumeReference) ID() string { return s.SegmentID }

func (s SurfaceVolumeReference) SubDir(dataDir string) string {
	return fmt.Sprintf("%s/scroll%s/segment/%s/", dataDir, s.ScrollID, s.SegmentID)
}

func (s SurfaceVolumeReference) Label() string {
	return fmt.Sprintf("Scroll %s / Segment %s", s.ScrollID, s.SegmentID)
}

func (s SurfaceVolumeReference) URLPathBase() string {
	return fmt.Sprintf("scroll/%s/segment/%s/", s.ScrollID, s.SegmentID)
}

// Named references, matching model.rs's FullVolumeReference constants.
var (
	Scroll1                            = FullVolumeReference{ScrollID: "1", Volume: "20230205180739"}
	Scroll1B                           = FullVolumeReference{ScrollID: "1", Volume: "20230206171837"}
	Scroll2                            = FullVolumeReference{ScrollID: "2", Volume: "20230210143520"}
	Scroll2B                           = FullVolumeReference{ScrollID: "2", Volume: "20230206082907"}
	Scroll2_88keV                      = FullVolumeReference{ScrollID: "2", Volume: "20230212125146"}
	Scroll332_3_24um                   = FullVolumeReference{ScrollID: "0332", Volume: "20231027191953"}
	Scroll332_7_91um                   = FullVolumeReference{ScrollID: "0332", Volume: "20231117143551"}
	Scroll1667                         = FullVolumeReference{ScrollID: "1667", Volume: "20231107190228"}
	Scroll1667_7_91um                  = FullVolumeReference{ScrollID: "1667", Volume: "20231117161658"}
	Scroll172                          = FullVolumeReference{ScrollID: "172", Volume: "20241024131838"}
	FragmentPHerc0051Cr04Fr08_3_24um53 = FullVolumeReference{ScrollID: "PHerc0051Cr04Fr08", Volume: "20231121152933"}
	FragmentPHerc0051Cr04Fr08_3_24um70 = FullVolumeReference{ScrollID: "PHerc0051Cr04Fr08", Volume: "20231201120546"}
	FragmentPHerc0051Cr04Fr08_3_24um88 = FullVolumeReference{ScrollID: "PHerc0051Cr04Fr08", Volume: "20231201112849"}
	FragmentPHerc0051Cr04Fr08_7_91um53 = FullVolumeReference{ScrollID: "PHerc0051Cr04Fr08", Volume: "20231130112027"}
	FragmentPHerc1667Cr01Fr03          = FullVolumeReference{ScrollID: "PHerc1667Cr01Fr03", Volume: "20231121133215"}
	Fragment1_54keV                    = FullVolumeReference{ScrollID: "Frag1", Volume: "20230205142449"}
	Fragment1_88keV                    = FullVolumeReference{ScrollID: "Frag1", Volume: "20230213100222"}
	Fragment2_54keV                    = FullVolumeReference{ScrollID: "Frag2", Volume: "20230216174557"}
	Fragment2_88keV                    = FullVolumeReference{ScrollID: "Frag2", Volume: "20230226143835"}
	Fragment3_54keV                    = FullVolumeReference{ScrollID: "Frag3", Volume: "20230212182547"}
	Fragment3_88keV                    = FullVolumeReference{ScrollID: "Frag3", Volume: "20230215142309"}
	Fragment4_54keV                    = FullVolumeReference{ScrollID: "Frag4", Volume: "20230215185642"}
	Fragment4_88keV                    = FullVolumeReference{ScrollID: "Frag4", Volume: "20230222173037"}

	Segment20230827161847 = SurfaceVolumeReference{ScrollID: "1", SegmentID: "20230827161847"}
	Segment20231005123335 = SurfaceVolumeReference{ScrollID: "1", SegmentID: "20231005123335"}
)

// Volumes is the full catalog of known references, matching
// model.rs's `<dyn VolumeReference>::VOLUMES`.
var Volumes = []VolumeReference{
	Scroll1,
	Scroll1B,
	Scroll2,
	Scroll2B,
	Scroll2_88keV,
	Scroll332_3_24um,
	Scroll332_7_91um,
	Scroll1667,
	Scroll1667_7_91um,
	Scroll172,
	FragmentPHerc0051Cr04Fr08_3_24um53,
	FragmentPHerc0051Cr04Fr08_3_24um70,
	FragmentPHerc0051Cr04Fr08_3_24um88,
	FragmentPHerc0051Cr04Fr08_7_91um53,
	FragmentPHerc1667Cr01Fr03,
	Fragment1_54keV,
	Fragment1_88keV,
	Fragment2_54keV,
	Fragment2_88keV,
	Fragment3_54keV,
	Fragment3_88keV,
	Fragment4_54keV,
	Fragment4_88keV,
	Segment20230827161847,
	Segment20231005123335,
}

// FindVolumeReference looks up a catalog entry by ID, matching
// model.rs's `TryFrom<String> for &'static dyn VolumeReference`.
func FindVolumeReference(id string) (VolumeReference, error) {
	for _, v := range Volumes {
		if v.ID() == id {
			return v, nil
		}
	}
	return nil, fmt.Errorf("volume %s not found", id)
}

// DefaultTileServer is the tile server this catalog's references are
// downloaded from, matching model.rs's NewVolumeReference::TILE_SERVER.
const DefaultTileServer = "https://vesuvius.virtual-void.net"

// OpenBlock64Reference wires a Block64 volume backend for ref, rooted at
// ref.SubDir(dataDir) and fetching missing tiles from server via a
// Downloader feeding a TileCache, matching model.rs's
// NewVolumeReference::volume for the Volume64x4 case. The returned
// Downloader still needs its Run started by the caller (main.go does this
// in a background goroutine tied to the process lifetime).
func OpenBlock64Reference(ref VolumeReference, dataDir, server string, auth *BasicAuth, client *http.Client, logger *log.Logger) (*Block64, *Downloader) {
	if server == "" {
		server = DefaultTileServer
	}
	volumeDir := ref.SubDir(dataDir)
	pathFor := Block64PathFor(volumeDir)
	urlFor := func(key TileKey) string {
		return fmt.Sprintf("%s/tiles/%sdownload/64-4?x=%d&y=%d&z=%d&bitmask=%d&downsampling=%d",
			server, ref.URLPathBase(), key.X, key.Y, key.Z, 0xff, key.DS)
	}

	downloaderMetrics := createDownloaderMetrics(ref.ID(), logger)
	downloader := NewDownloader(urlFor, pathFor, auth, client, logger, downloaderMetrics)

	cacheMetrics := createCacheMetrics(ref.ID(), logger)
	cache := NewTileCache(pathFor, downloader.Enqueue, logger, cacheMetrics)

	return NewBlock64(volumeDir, cache), downloader
}
