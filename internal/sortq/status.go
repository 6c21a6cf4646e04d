package sortq

// Group summarizes the queued episodes of one series season.
type Group struct {
	Series string `json:"series"`
	Season int    `json:"season"`
	First  int    `json:"first"`
	Last   int    `json:"last"`
	Count  int    `json:"count"`
}

// Status groups the user's queue by series then season. Groups come out in
// queue order; First and Last are the lowest and highest queued episodes.
func (s *Store) Status(user int64) []Group {
	var out []Group
	for _, e := range s.Snapshot(user) {
		n := len(out)
		if n > 0 && out[n-1].Series == e.Key.Series && out[n-1].Season == e.Key.Season {
			out[n-1].Last = e.Key.Episode
			out[n-1].Count++
			continue
		}
		out = append(out, Group{
			Series: e.Key.Series,
			Season: e.Key.Season,
			First:  e.Key.Episode,
			Last:   e.Key.Episode,
			Count:  1,
		})
	}
	return out
}
