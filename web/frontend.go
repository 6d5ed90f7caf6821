package web

type FrontendData struct {
	Tilesets  []TilesetData  `json:"tilesets"`
	Framesets []FramesetData `json:"framesets"`
}

type TilesetData struct {
	Name     string     `json:"name"`
	URL      string     `json:"url"`
	TileSize int        `json:"tileSize"`
	MinZoom  int        `json:"minZoom"`
	MaxZoom  int        `json:"maxZoom"`
	Bounds   []float64  `json:"bounds"`
	Center   [2]float64 `json:"center"`
	Grid     bool       `json:"grid"`
}

type FramesetData struct {
	Name   string      `json:"name"`
	Frames []FrameData `json:"frames"`
}

type FrameData struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
