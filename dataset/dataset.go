package dataset

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-sr-bench/images"
	"github.com/nvr-ai/go-sr-bench/pool"
	"github.com/nvr-ai/go-sr-bench/util"
)

// DefaultConcurrency is the number of files prepared in parallel.
const DefaultConcurrency = 20

// Dataset owns the cache of derived artifacts for one named image collection.
type Dataset struct {
	def         Definition
	dir         string
	storeKind   StoreKind
	store       Store
	processor   images.Processor
	log         logs.Log
	concurrency int

	mu sync.Mutex
	db Database
	// prepared holds the (scale, crop) pairs a successful Initialize has covered.
	prepared map[image.Point]bool
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithLog sets the logger.
func WithLog(log logs.Log) Option {
	return func(d *Dataset) { d.log = log }
}

// WithProcessor replaces the image processor.
func WithProcessor(p images.Processor) Option {
	return func(d *Dataset) { d.processor = p }
}

// WithStore selects the persistence backend.
func WithStore(kind StoreKind) Option {
	return func(d *Dataset) { d.storeKind = kind }
}

// WithConcurrency sets how many files Initialize prepares in parallel.
func WithConcurrency(n int) Option {
	return func(d *Dataset) { d.concurrency = n }
}

// DefaultCacheRoot returns the directory holding every dataset cache.
func DefaultCacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "go-sr-bench", "datasets")
	}
	return filepath.Join(os.TempDir(), "go-sr-bench", "datasets")
}

// New opens the dataset, loading its cache from <cacheRoot>/<name>.
//
// Arguments:
//   - def: The dataset definition.
//   - cacheRoot: Parent directory of all dataset caches.
//   - opts: Optional settings.
//
// Returns:
//   - *Dataset: The dataset with its database loaded (empty if no cache exists).
//   - error: ErrInvalidDefinition, ErrCacheCorrupt or an I/O error.
func New(def Definition, cacheRoot string, opts ...Option) (*Dataset, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cacheRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve cache root %s", cacheRoot)
	}

	d := &Dataset{
		def:         def,
		dir:         filepath.Join(root, def.Name),
		concurrency: DefaultConcurrency,
		prepared:    map[image.Point]bool{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.processor == nil {
		d.processor = images.NewResampler()
	}
	if d.log == nil {
		d.log, err = logs.NewLog()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create logger")
		}
	}

	d.store, err = OpenStore(d.storeKind, d.dir)
	if err != nil {
		return nil, err
	}
	d.db, err = d.store.Load()
	if err != nil {
		d.store.Close()
		return nil, err
	}

	return d, nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string {
	return d.def.Name
}

// Definition returns the definition the dataset was opened with.
func (d *Dataset) Definition() Definition {
	return d.def
}

// Dir returns the cache directory.
func (d *Dataset) Dir() string {
	return d.dir
}

// StorePath returns the location of the persisted database.
func (d *Dataset) StorePath() string {
	return d.store.Path()
}

// Close releases the store.
func (d *Dataset) Close() error {
	return d.store.Close()
}

// Initialize derives and caches the original and downscaled artifacts of every source
// image at scale, plus a centred crop when cropSize > 0. Anything already cached is
// skipped. Files are prepared concurrently and progress is reported exactly once per
// source file.
//
// A dataset without a source path cannot be processed. It is accepted only when the
// cache already holds the requested scale (and crop); otherwise ErrMissingPath is returned.
//
// Arguments:
//   - ctx: Cancels outstanding work.
//   - scale: Integer downscale factor.
//   - cropSize: Square crop edge in original pixels, or 0 for none.
//   - progress: Optional per-file callback.
//
// Returns:
//   - error: A configuration error, or every per-file error combined.
func (d *Dataset) Initialize(ctx context.Context, scale, cropSize int, progress Progress) error {
	if scale < 1 {
		return errors.Wrapf(ErrInvalidDefinition, "invalid scale %d", scale)
	}
	if cropSize < 0 {
		return errors.Wrapf(ErrInvalidDefinition, "invalid crop size %d", cropSize)
	}

	if d.def.Path == "" {
		if files, err := d.Files(scale, cropSize); err == nil && len(files) > 0 {
			d.log.Infof("Dataset %s has no source path, using cache at %s", d.def.Name, d.store.Path())
			return nil
		}
		return errors.Wrapf(ErrMissingPath,
			"dataset %q needs a source path to be processed at x%d (no usable cache at %s)",
			d.def.Name, scale, d.store.Path())
	}

	files, err := util.ListImageFiles(d.def.Path)
	if err != nil {
		return err
	}
	d.log.Infof("Preparing %d files of dataset %s at x%d (crop %d)", len(files), d.def.Name, scale, cropSize)

	worker := func(ctx context.Context, file util.ImageFile) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return d.prepare(file, scale, cropSize)
	}

	_, err = pool.Map(ctx, files, d.concurrency, worker,
		func(done, total int, r pool.Result[util.ImageFile, bool]) {
			if r.Err != nil {
				d.log.Warnf("Failed to prepare %s: %v", r.Item.RelPath, r.Err)
			}
			if progress != nil {
				progress(ProgressEvent{
					Done:     done,
					Total:    total,
					FileName: r.Item.RelPath,
					Cached:   r.Value,
					Err:      r.Err,
				})
			}
		})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.prepared[image.Pt(scale, cropSize)] = true
	d.mu.Unlock()
	return nil
}

// prepare derives whatever is missing for one file. It reports true when everything
// was already cached.
func (d *Dataset) prepare(file util.ImageFile, scale, cropSize int) (bool, error) {
	fileName := file.RelPath

	d.mu.Lock()
	entry, ok := d.db[fileName][scale]
	d.mu.Unlock()

	_, haveCrop := entry.Cropped[cropSize]
	needCrop := cropSize > 0 && !haveCrop
	if ok && !needCrop {
		return true, nil
	}

	var original image.Image
	if !ok {
		src, err := d.processor.Load(file.Path)
		if err != nil {
			return false, err
		}
		b := src.Bounds()
		w := images.FloorToMultiple(b.Dx(), scale)
		h := images.FloorToMultiple(b.Dy(), scale)
		if w == 0 || h == 0 {
			return false, errors.Errorf("%s: %dx%d is smaller than scale %d", fileName, b.Dx(), b.Dy(), scale)
		}

		entry = ProcessedFile{FileName: fileName, Cropped: map[int]CroppedPair{}}
		original, entry.Original, err = d.derive(src, w, h, d.artifactPath(fileName, scale, 0, "original"))
		if err != nil {
			return false, err
		}
		_, entry.Downscaled, err = d.derive(original, w/scale, h/scale, d.artifactPath(fileName, scale, 0, "downscaled"))
		if err != nil {
			return false, err
		}
	}

	if needCrop {
		if original == nil {
			var err error
			if original, err = d.processor.Load(entry.Original.Path); err != nil {
				return false, err
			}
		}
		pair, err := d.crop(original, fileName, scale, cropSize)
		if err != nil {
			return false, err
		}

		cropped := make(map[int]CroppedPair, len(entry.Cropped)+1)
		for k, v := range entry.Cropped {
			cropped[k] = v
		}
		cropped[cropSize] = pair
		entry.Cropped = cropped
	}

	return false, d.save(fileName, scale, entry)
}

// crop cuts a centred square out of original. The edge is clamped to the image and
// floored to a multiple of scale so the downscaled crop divides exactly.
func (d *Dataset) crop(original image.Image, fileName string, scale, cropSize int) (CroppedPair, error) {
	b := original.Bounds()
	edge := images.FloorToMultiple(min(cropSize, b.Dx(), b.Dy()), scale)
	if edge == 0 {
		return CroppedPair{}, errors.Errorf("%s: crop %d leaves nothing at scale %d", fileName, cropSize, scale)
	}

	cropImg := images.Crop(original, images.CenterRect(b.Dx(), b.Dy(), edge, edge))
	origPath := d.artifactPath(fileName, scale, cropSize, "original")
	if err := d.processor.Save(origPath, cropImg); err != nil {
		return CroppedPair{}, err
	}

	_, down, err := d.derive(cropImg, edge/scale, edge/scale, d.artifactPath(fileName, scale, cropSize, "downscaled"))
	if err != nil {
		return CroppedPair{}, err
	}

	return CroppedPair{
		Original:   ImagePackage{Path: origPath, Width: edge, Height: edge},
		Downscaled: down,
	}, nil
}

func (d *Dataset) derive(src image.Image, w, h int, path string) (image.Image, ImagePackage, error) {
	img, err := d.processor.Resize(src, w, h)
	if err != nil {
		return nil, ImagePackage{}, err
	}
	if err := d.processor.Save(path, img); err != nil {
		return nil, ImagePackage{}, err
	}
	b := img.Bounds()
	return img, ImagePackage{Path: path, Width: b.Dx(), Height: b.Dy()}, nil
}

// save merges entry into the file's scale map and persists it.
func (d *Dataset) save(fileName string, scale int, entry ProcessedFile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := make(map[int]ProcessedFile, len(d.db[fileName])+1)
	for k, v := range d.db[fileName] {
		merged[k] = v
	}
	merged[scale] = entry
	d.db[fileName] = merged

	return d.store.Save(d.db, fileName)
}

// ArtifactName flattens a relative file name into a single path element. The extension
// is kept and separators are percent-escaped, so distinct names never share an artifact.
func ArtifactName(fileName string) string {
	return url.PathEscape(filepath.ToSlash(fileName))
}

// artifactPath returns the location of a derived PNG.
func (d *Dataset) artifactPath(fileName string, scale, cropSize int, kind string) string {
	name := fmt.Sprintf("%s-x%d", ArtifactName(fileName), scale)
	if cropSize > 0 {
		name += fmt.Sprintf("-c%d", cropSize)
	}
	return filepath.Join(d.dir, "images", fmt.Sprintf("%s-%s.png", name, kind))
}

// Files returns the prepared pairs at scale, sorted by file name. With cropSize > 0 the
// cropped pairs are returned instead, and every file must have that crop.
//
// Arguments:
//   - scale: The scale to list.
//   - cropSize: The crop size requested from Initialize, or 0.
//
// Returns:
//   - []File: The pairs.
//   - error: ErrScaleNotProcessed or ErrCropNotProcessed. A cache left empty by a
//     successful Initialize yields no files and no error.
func (d *Dataset) Files(scale, cropSize int) ([]File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var files []File
	for fileName, scales := range d.db {
		pf, ok := scales[scale]
		if !ok {
			continue
		}
		if cropSize <= 0 {
			files = append(files, File{FileName: fileName, Original: pf.Original, Downscaled: pf.Downscaled})
			continue
		}
		pair, ok := pf.Cropped[cropSize]
		if !ok {
			return nil, errors.Wrapf(ErrCropNotProcessed, "%s has no crop %d at x%d in dataset %s",
				fileName, cropSize, scale, d.def.Name)
		}
		files = append(files, File{FileName: fileName, Original: pair.Original, Downscaled: pair.Downscaled})
	}

	if len(files) == 0 && !d.prepared[image.Pt(scale, cropSize)] {
		if len(d.db) > 0 {
			return nil, errors.Wrapf(ErrScaleNotProcessed, "dataset %s has no files at x%d", d.def.Name, scale)
		}
		if cropSize > 0 {
			return nil, errors.Wrapf(ErrCropNotProcessed, "dataset %s has no crop %d at x%d", d.def.Name, cropSize, scale)
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].FileName < files[j].FileName
	})
	return files, nil
}

// Snapshot returns a deep copy of the database.
func (d *Dataset) Snapshot() Database {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(Database, len(d.db))
	for fileName, scales := range d.db {
		m := make(map[int]ProcessedFile, len(scales))
		for scale, pf := range scales {
			cropped := make(map[int]CroppedPair, len(pf.Cropped))
			for k, v := range pf.Cropped {
				cropped[k] = v
			}
			pf.Cropped = cropped
			m[scale] = pf
		}
		out[fileName] = m
	}
	return out
}
