package web

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"crarchive.org/archivedb"
	"crarchive.org/email"
	"crarchive.org/search/index"
	"crarchive.org/search/query"
)

// parseMonth parses the "2001-01" of an MHonARC path.
func parseMonth(v string) (year, month int, ok bool) {
	i := strings.IndexByte(v, '-')
	if i != 4 || len(v) != 7 {
		return 0, 0, false
	}
	year, err1 := strconv.Atoi(v[:i])
	month, err2 := strconv.Atoi(v[i+1:])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || year < 1 {
		return 0, 0, false
	}
	return year, month, true
}

type calendarYear struct {
	Year   int
	Total  int
	Months [12]archivedb.Month
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	months, err := s.DB.Months(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var years []*calendarYear
	total := 0
	for _, m := range months {
		if len(years) == 0 || years[len(years)-1].Year != m.Year {
			years = append(years, &calendarYear{Year: m.Year})
		}
		y := years[len(years)-1]
		y.Months[m.Month-1] = m
		y.Total += m.Count
		total += m.Count
	}
	s.render(w, r, http.StatusOK, "calendar.html", &page{
		Title: "Archive",
		Data: struct {
			Years []*calendarYear
			Total int
		}{years, total},
	})
}

func (s *Server) handleMonthRedirect(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseMonth(mux.Vars(r)["month"])
	if !ok {
		s.malformed(w, r)
		return
	}
	http.Redirect(w, r, monthURL(year, month), http.StatusMovedPermanently)
}

func (s *Server) handleMonth(order archivedb.Order) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, month, ok := parseMonth(mux.Vars(r)["month"])
		if !ok {
			s.malformed(w, r)
			return
		}
		list, err := s.DB.MonthMsgs(r.Context(), year, month, order)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(list) == 0 {
			s.notFound(w, r)
			return
		}
		s.render(w, r, http.StatusOK, "month.html", &page{
			Title: fmt.Sprintf("%s %d", monthName(month), year),
			Data: struct {
				Year, Month int
				ByThread    bool
				Msgs        []archivedb.MsgSummary
			}{year, month, order == archivedb.ByThread, list},
		})
	}
}

// msgPage is the data of message.html.
type msgPage struct {
	Msg         *archivedb.Message
	Body        template.HTML
	Prev, Next  *archivedb.MsgSummary
	Thread      *archivedb.Thread
	ThreadMsgs  []archivedb.MsgSummary
	Attachments []attachment
	Original    *archivedb.MsgSummary // the message this one duplicates
}

type attachment struct {
	URL  string
	Name string
	Type string
	Size int64
}

func (s *Server) handleMsgPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	year, month, ok := parseMonth(vars["month"])
	if !ok {
		s.malformed(w, r)
		return
	}
	seqStr := vars["seq"]
	seq, err := strconv.Atoi(seqStr)
	if err != nil || seq < 0 || len(seqStr) > 9 {
		s.malformed(w, r)
		return
	}
	msg, err := s.DB.LoadMsgBySeq(r.Context(), year, month, seq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.renderMsg(w, r, msg)
}

// handleMsgID serves /msg/{id}: numbered messages redirect to their
// MHonARC page, others are shown here.
func (s *Server) handleMsgID(w http.ResponseWriter, r *http.Request) {
	msgID, err := email.ParseMsgID(mux.Vars(r)["id"])
	if err != nil {
		s.malformed(w, r)
		return
	}
	msg, err := s.DB.LoadMsg(r.Context(), msgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if msg.Numbered() {
		http.Redirect(w, r, msgURL(msg.MsgSummary), http.StatusFound)
		return
	}
	s.renderMsg(w, r, msg)
}

func (s *Server) handleMessageID(w http.ResponseWriter, r *http.Request) {
	id := email.MessageID(mux.Vars(r)["id"])
	if id == "" || len(id) > 998 {
		s.malformed(w, r)
		return
	}
	msg, err := s.DB.LoadMsgByMessageID(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, msgURL(msg.MsgSummary), http.StatusFound)
}

func (s *Server) renderMsg(w http.ResponseWriter, r *http.Request, msg *archivedb.Message) {
	ctx := r.Context()
	p := &msgPage{Msg: msg}

	if msg.BodyFromHTML && msg.BodyHTML != "" {
		body, err := renderHTML(msg)
		if err != nil {
			s.logf("web: %s: sanitizing HTML: %v", msg.MsgID, err)
			body = renderText(msg.BodyText)
		}
		p.Body = body
	} else {
		p.Body = renderText(msg.BodyText)
	}

	for _, part := range msg.Parts {
		if part.IsBody && !part.IsAttachment {
			continue
		}
		p.Attachments = append(p.Attachments, attachment{
			URL:  attURL(msg.MsgID, part.PartNum),
			Name: part.Name,
			Type: part.ContentType,
			Size: part.Size,
		})
	}

	var err error
	if msg.DuplicateOf != 0 {
		sums, err := s.DB.Summaries(ctx, []email.MsgID{msg.DuplicateOf})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if orig, ok := sums[msg.DuplicateOf]; ok {
			p.Original = &orig
		}
	} else if msg.Numbered() {
		if p.Prev, p.Next, err = s.DB.Neighbours(ctx, msg.MsgID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if msg.ThreadID != 0 {
		p.Thread, p.ThreadMsgs, err = s.DB.ThreadMsgs(ctx, msg.ThreadID)
		if err != nil && err != archivedb.ErrNotFound {
			s.fail(w, r, err)
			return
		}
		if p.Thread != nil && p.Thread.MsgCount < 2 {
			p.Thread, p.ThreadMsgs = nil, nil
		}
	}

	s.render(w, r, http.StatusOK, "message.html", &page{Title: msg.Subject, Data: p})
}

// parseID parses a positive integer path element.
func parseID(v string) (int64, bool) {
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		s.malformed(w, r)
		return
	}
	th, list, err := s.DB.ThreadMsgs(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "thread.html", &page{
		Title: th.Subject,
		Data: struct {
			Thread *archivedb.Thread
			Msgs   []archivedb.MsgSummary
		}{th, list},
	})
}

const topicLetters = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	letter := r.URL.Query().Get("letter")
	if letter != "" && (len(letter) != 1 || !strings.Contains(topicLetters, strings.ToUpper(letter))) {
		s.malformed(w, r)
		return
	}
	letter = strings.ToUpper(letter)
	topics, err := s.DB.Topics(r.Context(), letter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	title := "Topics"
	if letter != "" {
		title = "Topics: " + letter
	}
	s.render(w, r, http.StatusOK, "topics.html", &page{
		Title: title,
		Data: struct {
			Letters []string
			Letter  string
			Topics  []archivedb.Topic
		}{strings.Split(topicLetters, ""), letter, topics},
	})
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		s.malformed(w, r)
		return
	}
	topic, list, err := s.DB.TopicMsgs(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "topic.html", &page{
		Title: topic.Subject,
		Data: struct {
			Topic *archivedb.Topic
			Msgs  []archivedb.MsgSummary
		}{topic, list},
	})
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msgID, err := email.ParseMsgID(vars["id"])
	if err != nil {
		s.malformed(w, r)
		return
	}
	partNum, err := strconv.Atoi(vars["part"])
	if err != nil || partNum < 0 {
		s.malformed(w, r)
		return
	}
	part, err := s.DB.LoadPart(r.Context(), msgID, partNum)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer part.Content.Close()

	ctype := part.ContentType
	if ctype == "" || strings.HasPrefix(ctype, "text/html") {
		ctype = "text/plain"
	}
	if strings.HasPrefix(ctype, "text/") {
		ctype += "; charset=utf-8"
	}
	h := w.Header()
	h.Set("Content-Type", ctype)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'")
	if part.Name != "" {
		disposition := "inline"
		if !strings.HasPrefix(part.ContentType, "image/") {
			disposition = "attachment"
		}
		h.Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": part.Name}))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, part.Content); err != nil {
		s.logf("web: %s: %v", r.URL.Path, err)
	}
}

// searchPage is the data of search.html.
type searchPage struct {
	Query    string
	Error    string
	Results  *index.Results
	Hits     []searchHit
	Page     int
	Pages    int
	PrevURL  string
	NextURL  string
	First    int // 1-based number of the first hit shown
	Limited  bool
	HasQuery bool
}

type searchHit struct {
	Msg       archivedb.MsgSummary
	URL       string
	Fragments []searchFragment
}

type searchFragment struct {
	URL  string
	Text template.HTML
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("q"))
	if len(text) > s.opts.MaxQueryLen {
		s.malformed(w, r)
		return
	}
	pageNum := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1e6 {
			s.malformed(w, r)
			return
		}
		pageNum = n
	}

	p := &searchPage{Query: text, Page: pageNum, HasQuery: text != ""}
	if text == "" {
		s.render(w, r, http.StatusOK, "search.html", &page{Title: "Search", Data: p})
		return
	}
	if s.limiters != nil && !s.limiters.Allow(clientIP(r)) {
		s.metrics.searches.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", "1")
		p.Limited = true
		s.render(w, r, http.StatusTooManyRequests, "search.html", &page{Title: "Search", Data: p})
		return
	}

	pageSize := s.opts.PageSize
	res, err := s.Searcher.Search(r.Context(), text, (pageNum-1)*pageSize, pageSize)
	if err != nil {
		var perr *query.ParseError
		if errors.As(err, &perr) || err == query.ErrEmpty {
			s.metrics.searches.WithLabelValues("parse_error").Inc()
			p.Error = err.Error()
			s.render(w, r, http.StatusOK, "search.html", &page{Title: "Search", Data: p})
			return
		}
		s.metrics.searches.WithLabelValues("error").Inc()
		s.fail(w, r, err)
		return
	}
	s.metrics.searches.WithLabelValues("ok").Inc()
	s.metrics.hits.Observe(float64(res.Total))

	ids := make([]email.MsgID, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.MsgID
	}
	sums, err := s.DB.Summaries(r.Context(), ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for _, h := range res.Hits {
		m, ok := sums[h.MsgID]
		if !ok {
			continue // removed since the search
		}
		hit := searchHit{Msg: m, URL: msgURL(m)}
		for _, f := range h.Fragments {
			hit.Fragments = append(hit.Fragments, searchFragment{
				URL:  fmt.Sprintf("%s#f%d", hit.URL, f.Num),
				Text: highlight(f.Text, res.Terms),
			})
		}
		p.Hits = append(p.Hits, hit)
	}

	p.Results = res
	p.First = (pageNum-1)*pageSize + 1
	p.Pages = (res.Total + pageSize - 1) / pageSize
	pageURL := func(n int) string {
		v := url.Values{"q": {text}}
		if n > 1 {
			v.Set("page", strconv.Itoa(n))
		}
		return "/search?" + v.Encode()
	}
	if pageNum > 1 {
		p.PrevURL = pageURL(pageNum - 1)
	}
	if pageNum < p.Pages {
		p.NextURL = pageURL(pageNum + 1)
	}
	s.render(w, r, http.StatusOK, "search.html", &page{Title: "Search: " + text, Data: p})
}
