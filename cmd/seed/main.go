// Command seed bulk-loads a directory of images into the gallery database.
//
// It expects one subdirectory per category:
//
//	uploads/primary-gallery/2025-02-27 Balloon day.jpg
//	uploads/moments-gallery/First date.jpg
//	uploads/letter/letter.png
//
// Files are stored inline as base64 data URLs, so the seeded database works
// on serverless hosts without a filesystem. A leading YYYY-MM-DD in the
// filename becomes the record date; the rest becomes the description.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eringen/keepsake"
)

func main() {
	dir := flag.String("dir", "uploads", "directory holding per-category image subdirectories")
	flag.Parse()

	cfg, err := keepsake.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	images, err := collectImages(*dir)
	if err != nil {
		log.Fatal(err)
	}
	if len(images) == 0 {
		log.Fatalf("no images found under %s", *dir)
	}

	conn := keepsake.NewConn(cfg.MongoURI, cfg.MongoDatabase)
	store := keepsake.NewStore(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := store.BulkCreate(ctx, images)
	if err != nil {
		log.Fatalf("bulk insert failed: %v", err)
	}
	if err := conn.Close(ctx); err != nil {
		log.Printf("disconnect: %v", err)
	}
	log.Printf("seeded %d images", count)
}

func collectImages(dir string) ([]keepsake.Image, error) {
	var images []keepsake.Image
	inline := keepsake.InlineStorage{}

	for _, cat := range keepsake.Categories {
		catDir := filepath.Join(dir, string(cat))
		entries, err := os.ReadDir(catDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", catDir, err)
		}

		order := 0
		for _, entry := range entries {
			if entry.IsDir() || !keepsake.AllowedImageFile(entry.Name(), "") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(catDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
			}

			date, description := parseSeedName(entry.Name())
			img := keepsake.Image{
				Filename:    strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
				Description: description,
				Date:        date,
				Category:    cat,
				Order:       order,
			}
			if err := inline.Save(&img, entry.Name(), keepsake.MimeTypeForFile(entry.Name()), data); err != nil {
				return nil, err
			}
			images = append(images, img)
			order++
		}
	}
	return images, nil
}

// parseSeedName splits "2025-02-27 Balloon day.jpg" into its date and
// description. Files without a date prefix stay undated, which sorts them
// ahead of every dated record in the gallery listing.
func parseSeedName(name string) (*time.Time, string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if len(base) > 10 {
		if t, err := time.Parse("2006-01-02", base[:10]); err == nil {
			return &t, strings.TrimSpace(base[10:])
		}
	}
	return nil, base
}
