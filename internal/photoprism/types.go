package photoprism

// Photo is an entry of the photo search result.
type Photo struct {
	UID          string  `json:"UID"`
	Title        string  `json:"Title"`
	Description  string  `json:"Description"`
	Caption      string  `json:"Caption"`
	TakenAt      string  `json:"TakenAt"`
	TakenAtLocal string  `json:"TakenAtLocal"`
	Favorite     bool    `json:"Favorite"`
	Type         string  `json:"Type"`
	Quality      int     `json:"Quality"`
	Lat          float64 `json:"Lat"`
	Lng          float64 `json:"Lng"`
	Country      string  `json:"Country"`
	Year         int     `json:"Year"`
	Month        int     `json:"Month"`
	Hash         string  `json:"Hash"` // primary file hash, used for thumbnails
	Width        int     `json:"Width"`
	Height       int     `json:"Height"`
	FileName     string  `json:"FileName"`
	OriginalName string  `json:"OriginalName"`
}

// PhotoDetails is the single-photo response; only the fields read by this
// client are decoded.
type PhotoDetails struct {
	UID         string `json:"UID"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Caption     string `json:"Caption"`
	DeletedAt   string `json:"DeletedAt"`
	Files       []File `json:"Files"`
}

// File is one file of a photo (the original, sidecars, edited versions).
type File struct {
	UID         string   `json:"UID"`
	Hash        string   `json:"Hash"`
	Primary     bool     `json:"Primary"`
	Width       int      `json:"Width"`
	Height      int      `json:"Height"`
	Orientation int      `json:"Orientation"`
	Markers     []Marker `json:"Markers"`
}

// Marker represents a face/subject region marker on a photo
type Marker struct {
	UID     string  `json:"UID"`
	FileUID string  `json:"FileUID"`
	Type    string  `json:"Type"`
	Src     string  `json:"Src"`
	Name    string  `json:"Name"`
	SubjUID string  `json:"SubjUID"`
	X       float64 `json:"X"` // Relative X position (0-1)
	Y       float64 `json:"Y"` // Relative Y position (0-1)
	W       float64 `json:"W"` // Relative width (0-1)
	H       float64 `json:"H"` // Relative height (0-1)
	Size    int     `json:"Size"`
	Score   int     `json:"Score"`
	Invalid bool    `json:"Invalid"`
	Review  bool    `json:"Review"`
}

// MarkerTypeFace is the marker type of detected or manually drawn faces.
const MarkerTypeFace = "face"

// Deleted reports whether the photo has been archived.
func (d *PhotoDetails) Deleted() bool {
	return d.DeletedAt != ""
}

// PrimaryFile returns the primary file, or the first one when none is
// flagged. Face marker coordinates are relative to this file.
func (d *PhotoDetails) PrimaryFile() *File {
	for i := range d.Files {
		if d.Files[i].Primary {
			return &d.Files[i]
		}
	}
	if len(d.Files) > 0 {
		return &d.Files[0]
	}
	return nil
}
