package camera

import (
	"fmt"
	"sort"
)

// Profile is a capture resolution and frame rate supported by the headset camera.
type Profile struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Framerate int    `json:"framerate"`
}

// DefaultProfile is the profile used when none is configured.
const DefaultProfile = "HL2_1504x846_60"

var profiles = buildProfiles(
	hl2(424, 240, 15, 30),
	hl2(500, 282, 15, 30),
	hl2(640, 360, 15, 30),
	hl2(760, 428, 15, 30),
	hl2(896, 504, 15, 30),
	hl2(960, 540, 15, 30),
	hl2(1128, 636, 15, 30),
	hl2(1280, 720, 15, 30),
	hl2(1504, 846, 5, 10, 15, 30, 60),
	hl2(1920, 1080, 15, 30),
	hl2(1952, 1100, 15, 30, 60),
	hl2(2272, 1278, 15, 30),
)

func hl2(width, height int, rates ...int) []Profile {
	out := make([]Profile, 0, len(rates))
	for _, fps := range rates {
		out = append(out, Profile{
			Name:      fmt.Sprintf("HL2_%dx%d_%d", width, height, fps),
			Width:     width,
			Height:    height,
			Framerate: fps,
		})
	}
	return out
}

func buildProfiles(groups ...[]Profile) map[string]Profile {
	m := make(map[string]Profile)
	for _, g := range groups {
		for _, p := range g {
			m[p.Name] = p
		}
	}
	return m
}

// GetProfile returns the named profile.
func GetProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileNames returns all profile names sorted by resolution, then frame rate.
func ProfileNames() []string {
	list := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Width != list[j].Width {
			return list[i].Width < list[j].Width
		}
		return list[i].Framerate < list[j].Framerate
	})
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	return names
}

// PaddedWidth returns the profile width padded to WidthAlignment.
func (p Profile) PaddedWidth() int {
	return PadWidth(p.Width)
}
