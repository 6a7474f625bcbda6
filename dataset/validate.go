package dataset

import (
	"github.com/pkg/errors"
)

// Validate checks the shape of a database loaded from untrusted storage.
//
// Arguments:
//   - db: The database to check.
//
// Returns:
//   - error: ErrCacheCorrupt wrapped with the offending key, or nil.
func (db Database) Validate() error {
	for fileName, scales := range db {
		if fileName == "" {
			return errors.Wrap(ErrCacheCorrupt, "entry with empty file name")
		}
		for scale, pf := range scales {
			if err := pf.validate(fileName, scale); err != nil {
				return errors.Wrapf(ErrCacheCorrupt, "%s (x%d): %v", fileName, scale, err)
			}
		}
	}
	return nil
}

func (pf ProcessedFile) validate(fileName string, scale int) error {
	if scale < 1 {
		return errors.Errorf("invalid scale %d", scale)
	}
	if pf.FileName != fileName {
		return errors.Errorf("fileName %q does not match its key", pf.FileName)
	}
	if err := checkPair(pf.Original, pf.Downscaled, scale); err != nil {
		return err
	}
	for size, pair := range pf.Cropped {
		if size < 1 {
			return errors.Errorf("invalid crop size %d", size)
		}
		if err := checkPair(pair.Original, pair.Downscaled, scale); err != nil {
			return errors.Wrapf(err, "crop %d", size)
		}
	}
	return nil
}

func checkPair(original, downscaled ImagePackage, scale int) error {
	for _, p := range []ImagePackage{original, downscaled} {
		if p.Path == "" {
			return errors.New("image package without path")
		}
		if p.Width < 1 || p.Height < 1 {
			return errors.Errorf("%s has invalid size %dx%d", p.Path, p.Width, p.Height)
		}
	}
	if original.Width != downscaled.Width*scale || original.Height != downscaled.Height*scale {
		return errors.Errorf("original %dx%d is not downscaled %dx%d times %d",
			original.Width, original.Height, downscaled.Width, downscaled.Height, scale)
	}
	return nil
}
