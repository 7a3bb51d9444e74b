package urlinfo

import (
	"regexp"
	"strings"
)

var (
	biliVideoRe   = regexp.MustCompile(`/video/(BV[a-zA-Z0-9]+)`)
	biliCreatorRe = regexp.MustCompile(`space\.bilibili\.com/(\d+)`)

	douyinVideoRe   = regexp.MustCompile(`/video/(\d+)`)
	douyinCreatorRe = regexp.MustCompile(`/user/([^/?]+)`)

	ksVideoRe   = regexp.MustCompile(`/short-video/([a-zA-Z0-9_-]+)`)
	ksCreatorRe = regexp.MustCompile(`/profile/([a-zA-Z0-9_-]+)`)

	biliBVRe       = regexp.MustCompile(`^BV[a-zA-Z0-9]+$`)
	douyinSecUIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	ksIDRe         = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	xhsIDRe      = regexp.MustCompile(`^[0-9a-f]{24}$`)
	xhsNoteRe    = regexp.MustCompile(`/(?:explore|discovery/item)/([0-9a-zA-Z]+)`)
	xhsCreatorRe = regexp.MustCompile(`/user/profile/([0-9a-zA-Z]+)`)
)

// BilibiliVideo 支持 BV 号和 https://www.bilibili.com/video/BV1d54y1g7db 形式。
func BilibiliVideo(input string) (VideoInfo, error) {
	if biliBVRe.MatchString(input) {
		return VideoInfo{ID: input, Type: TypeNormal}, nil
	}
	if id, ok := firstGroup(biliVideoRe, input); ok {
		return VideoInfo{ID: id, Type: TypeNormal}, nil
	}
	return VideoInfo{}, unparseable(PlatformBilibili, "video", input)
}

// BilibiliCreator 支持纯数字 UID 和 space.bilibili.com/<uid>。
func BilibiliCreator(input string) (CreatorInfo, error) {
	if isDigits(input) {
		return CreatorInfo{ID: input}, nil
	}
	if id, ok := firstGroup(biliCreatorRe, input); ok {
		return CreatorInfo{ID: id}, nil
	}
	return CreatorInfo{}, unparseable(PlatformBilibili, "creator", input)
}

// DouyinVideo 依次识别纯数字 ID、v.douyin.com 短链、带 modal_id 的页面和 /video/<id>。
// 短链返回空 ID，需要调用方请求后从跳转地址再解析。
func DouyinVideo(input string) (VideoInfo, error) {
	if isDigits(input) {
		return VideoInfo{ID: input, Type: TypeNormal}, nil
	}
	if strings.Contains(input, "v.douyin.com") ||
		(strings.HasPrefix(input, "http") && len(input) < 50 && !strings.Contains(input, "video")) {
		return VideoInfo{Type: TypeShort}, nil
	}
	if id := queryParam(input, "modal_id"); id != "" {
		return VideoInfo{ID: id, Type: TypeModal}, nil
	}
	if id, ok := firstGroup(douyinVideoRe, input); ok {
		return VideoInfo{ID: id, Type: TypeNormal}, nil
	}
	return VideoInfo{}, unparseable(PlatformDouyin, "video", input)
}

// DouyinCreator 支持 sec_user_id 和 https://www.douyin.com/user/<sec_user_id>。
func DouyinCreator(input string) (CreatorInfo, error) {
	if douyinSecUIDRe.MatchString(input) {
		return CreatorInfo{ID: input}, nil
	}
	if id, ok := firstGroup(douyinCreatorRe, input); ok {
		return CreatorInfo{ID: id}, nil
	}
	return CreatorInfo{}, unparseable(PlatformDouyin, "creator", input)
}

func isKuaishouBareID(input string) bool {
	return ksIDRe.MatchString(input)
}

// KuaishouVideo 支持纯 ID 和 /short-video/<id>。
func KuaishouVideo(input string) (VideoInfo, error) {
	if isKuaishouBareID(input) {
		return VideoInfo{ID: input, Type: TypeNormal}, nil
	}
	if id, ok := firstGroup(ksVideoRe, input); ok {
		return VideoInfo{ID: id, Type: TypeNormal}, nil
	}
	return VideoInfo{}, unparseable(PlatformKuaishou, "video", input)
}

// KuaishouCreator 支持纯 ID 和 /profile/<id>。
func KuaishouCreator(input string) (CreatorInfo, error) {
	if isKuaishouBareID(input) {
		return CreatorInfo{ID: input}, nil
	}
	if id, ok := firstGroup(ksCreatorRe, input); ok {
		return CreatorInfo{ID: id}, nil
	}
	return CreatorInfo{}, unparseable(PlatformKuaishou, "creator", input)
}

// XhsNote 支持 24 位十六进制笔记 ID、/explore/<id> 和 /discovery/item/<id>，
// 同时带出链接里的 xsec_token 和 xsec_source。
func XhsNote(input string) (NoteInfo, error) {
	if xhsIDRe.MatchString(input) {
		return NoteInfo{ID: input}, nil
	}
	if id, ok := firstGroup(xhsNoteRe, input); ok {
		return NoteInfo{
			ID:         id,
			XsecToken:  queryParam(input, "xsec_token"),
			XsecSource: queryParam(input, "xsec_source"),
		}, nil
	}
	return NoteInfo{}, unparseable(PlatformXhs, "note", input)
}

// XhsCreator 支持 24 位十六进制用户 ID 和 /user/profile/<id>。
func XhsCreator(input string) (CreatorInfo, error) {
	if xhsIDRe.MatchString(input) {
		return CreatorInfo{ID: input}, nil
	}
	if id, ok := firstGroup(xhsCreatorRe, input); ok {
		return CreatorInfo{
			ID:         id,
			XsecToken:  queryParam(input, "xsec_token"),
			XsecSource: queryParam(input, "xsec_source"),
		}, nil
	}
	return CreatorInfo{}, unparseable(PlatformXhs, "creator", input)
}

var creatorParsers = map[string]func(string) (CreatorInfo, error){
	PlatformBilibili: BilibiliCreator,
	PlatformDouyin:   DouyinCreator,
	PlatformKuaishou: KuaishouCreator,
	PlatformXhs:      XhsCreator,
}

var videoParsers = map[string]func(string) (VideoInfo, error){
	PlatformBilibili: BilibiliVideo,
	PlatformDouyin:   DouyinVideo,
	PlatformKuaishou: KuaishouVideo,
	PlatformXhs: func(input string) (VideoInfo, error) {
		note, err := XhsNote(input)
		if err != nil {
			return VideoInfo{}, err
		}
		return VideoInfo{ID: note.ID, Type: TypeNormal}, nil
	},
}

// Creator 按平台名分发到对应的作者解析函数。
func Creator(platform, input string) (CreatorInfo, error) {
	parse, ok := creatorParsers[platform]
	if !ok {
		return CreatorInfo{}, unparseable(platform, "creator", input)
	}
	return parse(input)
}

// Video 按平台名分发。小红书笔记的 xsec 参数需要用 XhsNote 获取。
func Video(platform, input string) (VideoInfo, error) {
	parse, ok := videoParsers[platform]
	if !ok {
		return VideoInfo{}, unparseable(platform, "video", input)
	}
	return parse(input)
}
