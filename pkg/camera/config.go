package camera

import "fmt"

// Config holds the capture settings.
// These can be modified via the dashboard API at runtime.
type Config struct {
	Profile string `json:"profile"` // one of ProfileNames()
	Format  string `json:"format"`  // "grayscale" or "color"
	Device  int    `json:"device"`  // capture device index

	// HFOV is the horizontal field of view in degrees, used to build a
	// pinhole intrinsic when the source supplies none.
	HFOV float64 `json:"hfov"`

	// Quality is the JPEG quality for encoded frames sent to the dashboard.
	Quality int `json:"quality"`
}

// DefaultConfig returns the configuration used by the capture source.
func DefaultConfig() Config {
	return Config{
		Profile: DefaultProfile,
		Format:  Grayscale.String(),
		Device:  0,
		HFOV:    64.69, // HoloLens 2 PV camera at 1504x846
		Quality: 80,
	}
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() []string {
	var errs []string
	if _, err := GetProfile(c.Profile); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := ParseColorFormat(c.Format); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Device < 0 {
		errs = append(errs, fmt.Sprintf("device must be >= 0, got %d", c.Device))
	}
	if c.HFOV <= 0 || c.HFOV >= 180 {
		errs = append(errs, fmt.Sprintf("hfov must be in (0, 180), got %.2f", c.HFOV))
	}
	if c.Quality < 1 || c.Quality > 100 {
		errs = append(errs, fmt.Sprintf("quality must be 1-100, got %d", c.Quality))
	}
	return errs
}

// ColorFormat returns the parsed format. Validate first.
func (c Config) ColorFormat() ColorFormat {
	f, _ := ParseColorFormat(c.Format)
	return f
}
