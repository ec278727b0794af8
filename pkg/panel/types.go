package panel

// Server is the subset of an application-API server object the daemon relies on.
type Server struct {
	ID         int64  `json:"id"`
	UUID       string `json:"uuid"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Suspended  bool   `json:"suspended"`
	Limits     Limits `json:"limits"`
}

type Limits struct {
	// Disk is the disk limit in MiB, 0 means unlimited.
	Disk int64 `json:"disk"`
}

type serverObject struct {
	Object     string `json:"object"`
	Attributes Server `json:"attributes"`
}

type serverList struct {
	Object string         `json:"object"`
	Data   []serverObject `json:"data"`
	Meta   struct {
		Pagination pagination `json:"pagination"`
	} `json:"meta"`
}

type pagination struct {
	Total       int `json:"total"`
	Count       int `json:"count"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

type powerRequest struct {
	Signal string `json:"signal"`
}

type suspendRequest struct {
	Suspended bool `json:"suspended"`
}
