package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/scrollprize/vesuvius-volumes/volumes"
)

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	if len(os.Args) < 2 {
		helptext := `Usage: vesuvius-volumes [COMMAND] [ARGS]

Listing known scans:
vesuvius-volumes list

Warming the local cache for a scan:
vesuvius-volumes prefetch -volume VOLUME_ID -data DATA_DIR [-server URL] [-region x0,y0,z0,x1,y1,z1] [-ds N]

Checking tile server credentials:
vesuvius-volumes check-auth -volume VOLUME_ID [-server URL] [-user U -pass P]

Rendering a debug slice to PNG:
vesuvius-volumes render -volume VOLUME_ID -data DATA_DIR -out OUT.png [-z Z] [-size N] [-ds N]`
		fmt.Println(helptext)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runList()
	case "prefetch":
		runPrefetch(logger, os.Args[2:])
	case "check-auth":
		runCheckAuth(logger, os.Args[2:])
	case "render":
		runRender(logger, os.Args[2:])
	default:
		logger.Fatalf("unknown command %q", os.Args[1])
	}
}

func runList() {
	for _, ref := range volumes.Volumes {
		fmt.Printf("%-20s %s\n", ref.ID(), ref.Label())
	}
}

func lookupReference(volumeID, scrollID string) (volumes.VolumeReference, error) {
	if scrollID != "" {
		return volumes.NewDynamicVolumeReference(scrollID, volumeID), nil
	}
	return volumes.FindVolumeReference(volumeID)
}

func runPrefetch(logger *log.Logger, args []string) {
	fs := flag.NewFlagSet("prefetch", flag.ExitOnError)
	volumeID := fs.String("volume", "", "volume ID, e.g. 20230205180739")
	scrollID := fs.String("scroll", "", "scroll ID override, for a volume not in the catalog")
	dataDir := fs.String("data", "./data", "local cache directory")
	server := fs.String("server", volumes.DefaultTileServer, "tile server base URL")
	ds := fs.Int("ds", 4, "downsampling factor of the tiles to prefetch")
	region := fs.String("region", "0,0,0,4,4,4", "tile-coordinate region x0,y0,z0,x1,y1,z1 (exclusive upper bound)")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")
	user := fs.String("user", "", "HTTP basic auth username")
	pass := fs.String("pass", "", "HTTP basic auth password")
	fs.Parse(args)

	if *volumeID == "" {
		logger.Fatal("prefetch: -volume is required")
	}
	ref, err := lookupReference(*volumeID, *scrollID)
	if err != nil {
		logger.Fatalf("prefetch: %v", err)
	}

	var auth *volumes.BasicAuth
	if *user != "" {
		auth = &volumes.BasicAuth{Username: *user, Password: *pass}
	}

	var x0, y0, z0, x1, y1, z1 int32
	if _, err := fmt.Sscanf(*region, "%d,%d,%d,%d,%d,%d", &x0, &y0, &z0, &x1, &y1, &z1); err != nil {
		logger.Fatalf("prefetch: invalid -region %q: %v", *region, err)
	}

	b, downloader := volumes.OpenBlock64Reference(ref, *dataDir, *server, auth, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go downloader.Run(ctx)

	prefetchRegion := volumes.PrefetchRegion{MinX: x0, MinY: y0, MinZ: z0, MaxX: x1, MaxY: y1, MaxZ: z1, DS: uint8(*ds)}
	progress := volumes.NewPrefetchProgress(prefetchRegion.TileCount(), ref.Label(), *quiet)

	if err := volumes.Prefetch(ctx, b, prefetchRegion, 16, progress, logger); err != nil {
		logger.Fatalf("prefetch: %v", err)
	}
}

func runCheckAuth(logger *log.Logger, args []string) {
	fs := flag.NewFlagSet("check-auth", flag.ExitOnError)
	volumeID := fs.String("volume", "", "volume ID to probe")
	scrollID := fs.String("scroll", "", "scroll ID override, for a volume not in the catalog")
	server := fs.String("server", volumes.DefaultTileServer, "tile server base URL")
	user := fs.String("user", "", "HTTP basic auth username")
	pass := fs.String("pass", "", "HTTP basic auth password")
	fs.Parse(args)

	if *volumeID == "" {
		logger.Fatal("check-auth: -volume is required")
	}
	ref, err := lookupReference(*volumeID, *scrollID)
	if err != nil {
		logger.Fatalf("check-auth: %v", err)
	}

	var auth *volumes.BasicAuth
	if *user != "" {
		auth = &volumes.BasicAuth{Username: *user, Password: *pass}
	}

	_, downloader := volumes.OpenBlock64Reference(ref, os.TempDir(), *server, auth, nil, logger)
	probeURL := fmt.Sprintf("%s/tiles/%sdownload/64-4?x=0&y=0&z=0&bitmask=255&downsampling=1", *server, ref.URLPathBase())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if downloader.CheckAuthorization(ctx, probeURL) {
		fmt.Println("authorized")
	} else {
		fmt.Println("not authorized")
		os.Exit(1)
	}
}

func runRender(logger *log.Logger, args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	volumeID := fs.String("volume", "", "volume ID to render")
	scrollID := fs.String("scroll", "", "scroll ID override, for a volume not in the catalog")
	dataDir := fs.String("data", "./data", "local cache directory")
	server := fs.String("server", volumes.DefaultTileServer, "tile server base URL")
	out := fs.String("out", "slice.png", "output PNG path")
	z := fs.Int("z", 0, "voxel Z coordinate of the slice plane")
	size := fs.Int("size", 512, "square output size in pixels")
	ds := fs.Int("ds", 1, "downsampling factor")
	fs.Parse(args)

	if *volumeID == "" {
		logger.Fatal("render: -volume is required")
	}
	ref, err := lookupReference(*volumeID, *scrollID)
	if err != nil {
		logger.Fatalf("render: %v", err)
	}

	b, downloader := volumes.OpenBlock64Reference(ref, *dataDir, *server, nil, nil, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go downloader.Run(ctx)

	img := volumes.NewGrayImage(*size, *size)
	center := [3]int32{int32(*size / 2), int32(*size / 2), int32(*z)}
	axes := volumes.Axes{U: 0, V: 1, Plane: 2}
	b.Paint(center, axes, *size, *size, *ds, 1, volumes.DrawingConfig{}, img)

	if err := writePNG(*out, img); err != nil {
		logger.Fatalf("render: %v", err)
	}
	logger.Printf("wrote %s", *out)
}

func writePNG(path string, img *volumes.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	copy(gray.Pix, img.Gray)
	return png.Encode(f, gray)
}
