package llm

import (
	"context"
	"time"

	"mingling-chat/internal/chat"
)

const DefaultSimulatedDelay = 1500 * time.Millisecond

var sampleResponses = map[chat.Domain]string{
	chat.DomainBusiness: "Dựa trên phân tích dữ liệu, xu hướng thị trường đang có sự chuyển dịch. Báo cáo doanh thu Q2 cho thấy tăng trưởng 15% so với cùng kỳ năm ngoái, với sự đóng góp chính từ phân khúc khách hàng mới. Tôi khuyến nghị tập trung vào chiến lược tiếp thị số hóa và đa dạng hóa kênh bán hàng để tối ưu kết quả trong quý tới.",
	chat.DomainProgramming: "```javascript\nconst optimizeCode = (code) => {\n  // Phát hiện vấn đề: vòng lặp không hiệu quả\n  // Thay thế bằng phương thức map()\n  return code.split('\\n')\n    .map(line => line.trim())\n    .filter(line => line.length > 0)\n    .join('\\n');\n};\n\n// Giải thích: Phương pháp này tối ưu hơn vì\n// - Tránh được vòng lặp lồng nhau\n// - Sử dụng các phương thức chuỗi có sẵn\n// - Dễ đọc và bảo trì hơn\n```",
	chat.DomainData: "Kết quả phân tích dữ liệu từ tệp CSV của bạn cho thấy:\n\n1. Phân bố dữ liệu có độ lệch phải (right-skewed)\n2. Giá trị trung bình: 45.72\n3. Độ lệch chuẩn: 12.38\n4. Giá trị ngoại lai chiếm 3.5% mẫu\n\nMẫu truy vấn SQL tối ưu:\n```sql\nSELECT \n  category, \n  AVG(value) as mean_value,\n  COUNT(*) as sample_size\nFROM dataset\nWHERE timestamp > '2023-01-01'\nGROUP BY category\nHAVING COUNT(*) > 100\nORDER BY mean_value DESC;\n```",
	chat.DomainGeneral: "Tôi có thể giúp bạn trả lời câu hỏi này. Dựa trên thông tin hiện có, có một số điểm cần lưu ý. Thứ nhất, vấn đề này có nhiều khía cạnh cần được xem xét. Thứ hai, có những yếu tố chính ảnh hưởng đến kết quả cuối cùng. Nếu bạn cần thêm thông tin chi tiết, hãy cho tôi biết để tôi có thể đưa ra phân tích sâu hơn về vấn đề này.",
}

// SampleResponse returns the canned reply for a domain.
func SampleResponse(d chat.Domain) string {
	if s, ok := sampleResponses[d]; ok {
		return s
	}
	return sampleResponses[chat.DomainGeneral]
}

// Simulator answers every request with the canned reply for its domain
// after a fixed delay.
type Simulator struct {
	Delay time.Duration
	// FailWith, when set, is returned instead of a reply.
	FailWith error
}

func NewSimulator(delay time.Duration) *Simulator {
	return &Simulator{Delay: delay}
}

func (s *Simulator) Respond(ctx context.Context, domain chat.Domain, _ []chat.Message) (string, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.FailWith != nil {
		return "", s.FailWith
	}
	return SampleResponse(domain), nil
}
