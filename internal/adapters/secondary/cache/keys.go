package cache

// Schéma de clés canonique. Ne jamais construire une clé à la main ailleurs.

func FeedIndexKey(viewerID string) string {
	return "feed:index:" + viewerID
}

func FeedMarkerKey(viewerID string) string {
	return "feed:marker:" + viewerID
}

func PostBodyKey(postID string) string {
	return "post:body:" + postID
}
